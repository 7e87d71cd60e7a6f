package litevna

import (
	"encoding/binary"
	"fmt"
)

// BlockSize - размер одной записи FIFO.
const BlockSize = 32

// MeasurementBlock - сырые I/Q отсчеты падающей и отраженных волн для одной частоты.
type MeasurementBlock struct {
	Fwd0Re    int32  `json:"fwd0_re"`
	Fwd0Im    int32  `json:"fwd0_im"`
	Rev0Re    int32  `json:"rev0_re"`
	Rev0Im    int32  `json:"rev0_im"`
	Rev1Re    int32  `json:"rev1_re"`
	Rev1Im    int32  `json:"rev1_im"`
	FreqIndex uint16 `json:"freq_index"`
}

// DecodeBlock разбирает ровно 32 байта. Диапазоны значений не проверяются.
func DecodeBlock(b []byte) (MeasurementBlock, error) {
	if len(b) != BlockSize {
		return MeasurementBlock{}, fmt.Errorf("%w: %d байт вместо %d", ErrInvalidBlockLength, len(b), BlockSize)
	}
	le := binary.LittleEndian
	return MeasurementBlock{
		Fwd0Re:    int32(le.Uint32(b[0:4])),
		Fwd0Im:    int32(le.Uint32(b[4:8])),
		Rev0Re:    int32(le.Uint32(b[8:12])),
		Rev0Im:    int32(le.Uint32(b[12:16])),
		Rev1Re:    int32(le.Uint32(b[16:20])),
		Rev1Im:    int32(le.Uint32(b[20:24])),
		FreqIndex: le.Uint16(b[24:26]),
	}, nil
}

// DecodeSweep делит буфер развертки на points записей.
func DecodeSweep(buf []byte, points int) ([]MeasurementBlock, error) {
	if points < 0 || len(buf) != BlockSize*points {
		return nil, fmt.Errorf("%w: %d байт для %d точек", ErrLengthMismatch, len(buf), points)
	}
	blocks := make([]MeasurementBlock, points)
	for i := range blocks {
		b, err := DecodeBlock(buf[i*BlockSize : (i+1)*BlockSize])
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return blocks, nil
}

// AppendBinary дописывает 32-байтовое представление блока, резервные байты нулевые.
func (m MeasurementBlock) AppendBinary(dst []byte) ([]byte, error) {
	var b [BlockSize]byte
	le := binary.LittleEndian
	le.PutUint32(b[0:4], uint32(m.Fwd0Re))
	le.PutUint32(b[4:8], uint32(m.Fwd0Im))
	le.PutUint32(b[8:12], uint32(m.Rev0Re))
	le.PutUint32(b[12:16], uint32(m.Rev0Im))
	le.PutUint32(b[16:20], uint32(m.Rev1Re))
	le.PutUint32(b[20:24], uint32(m.Rev1Im))
	le.PutUint16(b[24:26], m.FreqIndex)
	return append(dst, b[:]...), nil
}

// MarshalBinary возвращает 32-байтовое представление блока.
func (m MeasurementBlock) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, BlockSize))
}

// UnmarshalBinary - обертка над DecodeBlock.
func (m *MeasurementBlock) UnmarshalBinary(b []byte) error {
	v, err := DecodeBlock(b)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
