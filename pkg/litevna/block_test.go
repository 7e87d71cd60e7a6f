package litevna

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceBlock собран вручную: значения в little-endian, хвост зарезервирован.
var referenceBlock = []byte{
	0xe8, 0x03, 0x00, 0x00, // fwd0Re = 1000
	0x18, 0xfc, 0xff, 0xff, // fwd0Im = -1000
	0xff, 0xff, 0xff, 0x7f, // rev0Re = MaxInt32
	0x00, 0x00, 0x00, 0x80, // rev0Im = MinInt32
	0xfe, 0xff, 0xff, 0xff, // rev1Re = -2
	0x01, 0x00, 0x00, 0x00, // rev1Im = 1
	0x34, 0x12, // freqIndex = 0x1234
	0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, // reserved
}

func TestDecodeBlock_Reference(t *testing.T) {
	b, err := DecodeBlock(referenceBlock)
	require.NoError(t, err)
	assert.Equal(t, MeasurementBlock{
		Fwd0Re:    1000,
		Fwd0Im:    -1000,
		Rev0Re:    2147483647,
		Rev0Im:    -2147483648,
		Rev1Re:    -2,
		Rev1Im:    1,
		FreqIndex: 0x1234,
	}, b)
}

func TestMeasurementBlock_MarshalRoundTrip(t *testing.T) {
	want := MeasurementBlock{Fwd0Re: -7, Fwd0Im: 42, Rev0Re: 1 << 30, Rev0Im: -(1 << 30), Rev1Re: 3, Rev1Im: -3, FreqIndex: 65535}
	raw, err := want.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, BlockSize)
	assert.Equal(t, make([]byte, 6), raw[26:], "резервные байты должны быть нулевыми")

	var got MeasurementBlock
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, want, got)
}

func TestDecodeBlock_InvalidLength(t *testing.T) {
	for _, n := range []int{0, 1, 31, 33, 64} {
		_, err := DecodeBlock(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidBlockLength, "length %d", n)
	}
}

func TestDecodeSweep(t *testing.T) {
	var buf []byte
	for _, b := range syntheticSweep(5) {
		buf, _ = b.AppendBinary(buf)
	}
	blocks, err := DecodeSweep(buf, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	for i, b := range blocks {
		assert.Equal(t, uint16(i), b.FreqIndex)
		assert.Equal(t, int32(1000), b.Fwd0Re)
	}

	_, err = DecodeSweep(buf[:len(buf)-1], 5)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = DecodeSweep(buf, 4)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	blocks, err = DecodeSweep(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}
