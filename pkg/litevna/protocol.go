// Этот файл содержит кодировщик команд бинарного протокола LiteVNA / NanoVNA V2.
package litevna

import (
	"encoding/binary"
	"fmt"
)

const (
	opNOP      byte = 0x00
	opREAD     byte = 0x10
	opREADFIFO byte = 0x18
	opWRITE    byte = 0x20
	opWRITE2   byte = 0x21
	opWRITE4   byte = 0x22
	opWRITE8   byte = 0x23

	addrSWEEP_START     byte = 0x00
	addrSWEEP_STEP      byte = 0x10
	addrSWEEP_POINTS    byte = 0x20
	addrVALS_PER_FREQ   byte = 0x22
	addrCALIBRATION     byte = 0x26
	addrVALS_FIFO       byte = 0x30
	addrAVERAGE         byte = 0x40
	addrLOW_FREQ_POWER  byte = 0x41
	addrHIGH_FREQ_POWER byte = 0x42
	addrDEVICE_VARIANT  byte = 0xf0
)

// FIFOAddress - адрес FIFO со значениями измерений.
const FIFOAddress = addrVALS_FIFO

// MaxFIFOChunk - протокольный предел одного запроса чтения FIFO (однобайтовое поле счетчика).
const MaxFIFOChunk = 255

// calibrationEnable включает выдачу откалиброванных данных. Отправляется один раз за сеанс.
var calibrationEnable = [3]byte{opWRITE, addrCALIBRATION, 0x03}

// Width - ширина регистра в байтах.
type Width int

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
	Width8 Width = 8
)

// opcode возвращает код операции записи для ширины.
func (w Width) opcode() (byte, error) {
	switch w {
	case Width1:
		return opWRITE, nil
	case Width2:
		return opWRITE2, nil
	case Width4:
		return opWRITE4, nil
	case Width8:
		return opWRITE8, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedWidth, int(w))
}

// RegisterWrite - одна команда записи регистра.
type RegisterWrite struct {
	Address byte
	Value   uint64
	Width   Width
}

// MarshalBinary кодирует команду в кадр протокола.
func (r RegisterWrite) MarshalBinary() ([]byte, error) {
	return EncodeRegisterWrite(r.Address, r.Value, r.Width)
}

func (r RegisterWrite) String() string {
	return fmt.Sprintf("write%d[0x%02x]=%d", int(r.Width), r.Address, r.Value)
}

// EncodeRegisterWrite строит кадр [opcode, address, value LE].
// Значение усекается до младших width байт.
func EncodeRegisterWrite(address byte, value uint64, width Width) ([]byte, error) {
	op, err := width.opcode()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+int(width))
	buf[0] = op
	buf[1] = address
	switch width {
	case Width1:
		buf[2] = byte(value)
	case Width2:
		binary.LittleEndian.PutUint16(buf[2:], uint16(value))
	case Width4:
		binary.LittleEndian.PutUint32(buf[2:], uint32(value))
	case Width8:
		binary.LittleEndian.PutUint64(buf[2:], value)
	}
	return buf, nil
}

// EncodeFIFOClear строит команду очистки FIFO: однобайтовая запись нуля по адресу FIFO.
func EncodeFIFOClear(address byte) []byte {
	return []byte{opWRITE, address, 0x00}
}

// EncodeFIFOReadRequest строит запрос чтения count значений из FIFO.
// Разбиение на порции - задача ReadFIFO, здесь count обязан быть в 1..255.
func EncodeFIFOReadRequest(address byte, count int) ([]byte, error) {
	if count < 1 || count > MaxFIFOChunk {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunk, count)
	}
	return []byte{opREADFIFO, address, byte(count)}, nil
}

// EncodeRegisterRead строит запрос чтения однобайтового регистра.
func EncodeRegisterRead(address byte) []byte {
	return []byte{opREAD, address}
}

// DecodeRegisterWrite разбирает кадр записи регистра, обратная операция к EncodeRegisterWrite.
func DecodeRegisterWrite(frame []byte) (RegisterWrite, error) {
	if len(frame) < 3 {
		return RegisterWrite{}, fmt.Errorf("%w: кадр из %d байт", ErrLengthMismatch, len(frame))
	}
	var w Width
	switch frame[0] {
	case opWRITE:
		w = Width1
	case opWRITE2:
		w = Width2
	case opWRITE4:
		w = Width4
	case opWRITE8:
		w = Width8
	default:
		return RegisterWrite{}, fmt.Errorf("%w: код операции 0x%02x", ErrUnsupportedWidth, frame[0])
	}
	if len(frame) != 2+int(w) {
		return RegisterWrite{}, fmt.Errorf("%w: кадр из %d байт для ширины %d", ErrLengthMismatch, len(frame), int(w))
	}
	r := RegisterWrite{Address: frame[1], Width: w}
	v := frame[2:]
	switch w {
	case Width1:
		r.Value = uint64(v[0])
	case Width2:
		r.Value = uint64(binary.LittleEndian.Uint16(v))
	case Width4:
		r.Value = uint64(binary.LittleEndian.Uint32(v))
	case Width8:
		r.Value = binary.LittleEndian.Uint64(v)
	}
	return r, nil
}
