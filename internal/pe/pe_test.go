package pe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/minilang32/internal/link"
)

func TestImportReturnsSameAddressForSamePair(t *testing.T) {
	b := New()
	a1 := b.Import("msvcrt.dll", "printf")
	a2 := b.Import("msvcrt.dll", "printf")
	assert.Same(t, a1, a2)

	a3 := b.Import("msvcrt.dll", "exit")
	assert.NotSame(t, a1, a3)
}

func TestSortedDLLNames(t *testing.T) {
	b := New()
	b.Import("zlib1.dll", "deflate")
	b.Import("msvcrt.dll", "printf")
	assert.Equal(t, []string{"msvcrt.dll", "zlib1.dll"}, b.SortedDLLNames())
}

func TestNewPinsTextVAAtImageBasePlusOnePage(t *testing.T) {
	b := New()
	assert.Equal(t, uint32(ImageBase+SectionAlignment), b.Text().VA())
}

func TestWriteFailsOnUndefinedSymbolAndWritesNoFile(t *testing.T) {
	b := New()
	text := b.Text()
	target := link.NewAddress("main")
	text.Append(0xE8)
	off := text.PlaceholderU32()
	target.Use(text, off, link.Rel32)

	out := filepath.Join(t.TempDir(), "output.exe")
	err := b.Write(out, []*link.Address{target})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined: main")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteProducesWellFormedPEImage(t *testing.T) {
	b := New()
	exitSlot := b.Import("msvcrt.dll", "exit")

	data := b.Data()
	strOff := data.Offset()
	data.AppendString("hi")
	strAddr := link.NewAddress("$str")
	b.RegisterDataAddr(strOff, strAddr)

	text := b.Text()
	start := link.NewAddress("_start")
	start.Define(text.VA())
	b.SetEntry(start)

	text.Append(0x68) // push imm32, target the string
	ph := text.PlaceholderU32()
	strAddr.Use(text, ph, link.Abs32)

	text.Append(0xFF, 0x15) // call [mem32], target the IAT slot
	ph2 := text.PlaceholderU32()
	exitSlot.Use(text, ph2, link.Indirect32)

	out := filepath.Join(t.TempDir(), "output.exe")
	addrs := append([]*link.Address{strAddr}, b.ImportAddresses()...)
	require.NoError(t, b.Write(out, addrs))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Equal(t, []byte("MZ"), raw[0:2])
	lfanew := uint32(raw[0x3C]) | uint32(raw[0x3D])<<8 | uint32(raw[0x3E])<<16 | uint32(raw[0x3F])<<24
	require.Equal(t, uint32(dosHeaderAndStubSize), lfanew)
	assert.Equal(t, []byte("PE\x00\x00"), raw[lfanew:lfanew+4])

	machine := uint16(raw[lfanew+4]) | uint16(raw[lfanew+5])<<8
	assert.Equal(t, uint16(machineI386), machine)

	numSections := uint16(raw[lfanew+6]) | uint16(raw[lfanew+7])<<8
	assert.Equal(t, uint16(numberOfSections), numSections)
}

func TestWriteWithNoImportsOmitsImportDirectory(t *testing.T) {
	b := New()
	text := b.Text()
	start := link.NewAddress("_start")
	start.Define(text.VA())
	b.SetEntry(start)
	text.Append(0xC3)

	out := filepath.Join(t.TempDir(), "output.exe")
	require.NoError(t, b.Write(out, nil))
	assert.Empty(t, b.DLLs())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	// Data directories start 96 bytes into the PE32 optional header.
	importDir := dosHeaderAndStubSize + peSignatureSize + coffHeaderSize + 96 + importDataDirectory*8
	assert.Equal(t, make([]byte, 8), raw[importDir:importDir+8])
}
