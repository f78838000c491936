package section

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAdvancesOffset(t *testing.T) {
	s := New(".text", Code)
	require.Equal(t, uint32(0), s.Offset())

	s.Append(0x90, 0x90)
	assert.Equal(t, uint32(2), s.Offset())
	assert.Equal(t, []byte{0x90, 0x90}, s.Bytes())
}

func TestAppendU32LEIsLittleEndian(t *testing.T) {
	s := New(".data", Data)
	s.AppendU32LE(0x00400000)
	assert.Equal(t, []byte{0x00, 0x00, 0x40, 0x00}, s.Bytes())
}

func TestAppendStringIsNULTerminated(t *testing.T) {
	s := New(".data", Data)
	s.AppendString("hi")
	assert.Equal(t, []byte{'h', 'i', 0}, s.Bytes())
}

func TestPlaceholderU32ReservesFourZeroBytes(t *testing.T) {
	s := New(".text", Code)
	s.Append(0xE8)
	off := s.PlaceholderU32()
	assert.Equal(t, uint32(1), off)
	assert.Equal(t, []byte{0xE8, 0, 0, 0, 0}, s.Bytes())
}

func TestPatchU32OverwritesInPlace(t *testing.T) {
	s := New(".text", Code)
	off := s.PlaceholderU32()
	s.PatchU32(off, 0xDEADBEEF)
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, s.Bytes())
}

func TestSetVAAndVA(t *testing.T) {
	s := New(".text", Code)
	assert.Equal(t, uint32(0), s.VA())
	s.SetVA(0x00401000)
	assert.Equal(t, uint32(0x00401000), s.VA())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "code", Code.String())
	assert.Equal(t, "data", Data.String())
}
