package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLittleEndianRoundTrip(t *testing.T) {
	var b8 [8]byte
	Uint64toBytes(b8[:], 0xFEEDFACEDEADBEEF)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde, 0xce, 0xfa, 0xed, 0xfe}, b8[:])
	assert.Equal(t, uint64(0xFEEDFACEDEADBEEF), BytesToUint64(b8[:]))

	var b4 [4]byte
	Uint32toBytes(b4[:], 0x12345678)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, b4[:])
	assert.Equal(t, uint32(0x12345678), BytesToUint32(b4[:]))
}
