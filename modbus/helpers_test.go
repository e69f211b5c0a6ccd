package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCRC16CheckValue(t *testing.T) {
	// The catalogue check value for CRC-16/MODBUS.
	assert.Equal(t, uint16(0x4B37), computeCRC16([]byte("123456789")))
}

func TestComputeCRC16KnownFrame(t *testing.T) {
	// Read 3 holdings from 0x006B on unit 0x11, a frame every Modbus
	// primer reproduces with CRC bytes 76 87.
	frame := buildRTUFrame(0x11, pdu{fnReadHoldings, []byte{0x00, 0x6B, 0x00, 0x03}})
	assert.Equal(t, []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}, frame)
}

func TestWordLayouts(t *testing.T) {
	buf := make([]byte, 4)
	setWord(buf, 0, 0x1234)
	setWordLE(buf, 2, 0x1234)
	assert.Equal(t, []byte{0x12, 0x34, 0x34, 0x12}, buf)
	assert.Equal(t, uint16(0x1234), getWord(buf, 0))
	assert.Equal(t, uint16(0x1234), getWordLE(buf, 2))
	assert.Equal(t, 0x1234, iGetWord(buf, 0))
}

func TestS32RoundTrip(t *testing.T) {
	cases := []struct {
		value  int
		hi, lo int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{-1, 0xFFFF, 0xFFFF},
		{5000, 0, 0x1388},
		{-5000, 0xFFFF, 0xEC78},
		{65536, 1, 0},
		{2147483647, 0x7FFF, 0xFFFF},
		{-2147483648, 0x8000, 0},
	}
	for _, c := range cases {
		hi, lo := S32ToRegs(c.value)
		assert.Equal(t, c.hi, hi, "hi of %v", c.value)
		assert.Equal(t, c.lo, lo, "lo of %v", c.value)
		assert.Equal(t, c.value, RegsToS32(hi, lo), "round trip of %v", c.value)
	}
}

func TestS32ToRegsRange(t *testing.T) {
	assert.Panics(t, func() { S32ToRegs(2147483648) })
	assert.Panics(t, func() { S32ToRegs(-2147483649) })
}

func TestConversionPanics(t *testing.T) {
	assert.Panics(t, func() { bytePanic(256) })
	assert.Panics(t, func() { bytePanic(-1) })
	assert.Panics(t, func() { wordPanic(65536) })
	assert.Panics(t, func() { wordPanic(-1) })
	assert.Equal(t, byte(255), bytePanic(255))
	assert.Equal(t, uint16(65535), wordPanic(65535))
}

func TestServerCheckAddress(t *testing.T) {
	require.NoError(t, serverCheckAddress("Holding", 0, 10, 10))
	require.NoError(t, serverCheckAddress("Holding", 9, 1, 10))
	err := serverCheckAddress("Holding", 8, 4, 10)
	require.Error(t, err)
	me, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, uint8(2), me.Code())
}
