// Package section implements the append-only byte buffers that back
// every region of the final image: the .text, .data and .idata sections.
// A Section knows nothing about symbols or relocations — it only tracks
// bytes, the current write offset, and (once link-time layout has run) the
// absolute virtual address the loader will map it at.
package section

import (
	"bytes"
	"encoding/binary"

	"github.com/xyproto/minilang32/internal/diag"
)

// Kind distinguishes executable code sections from data sections.
type Kind int

const (
	Code Kind = iota
	Data
)

func (k Kind) String() string {
	if k == Code {
		return "code"
	}
	return "data"
}

// Section is an append-only byte buffer with an assigned kind and, once
// layout has run, an absolute virtual address.
type Section struct {
	Name string
	Kind Kind

	buf bytes.Buffer
	va  uint32 // absolute VA (ImageBase + RVA); 0 until SetVA is called
}

// New creates an empty section of the given name and kind.
func New(name string, kind Kind) *Section {
	return &Section{Name: name, Kind: kind}
}

// Offset returns the current write offset.
func (s *Section) Offset() uint32 {
	return uint32(s.buf.Len())
}

// Len is an alias for Offset kept for readability at call sites that mean
// "how much has been written so far" rather than "where do I write next".
func (s *Section) Len() uint32 {
	return s.Offset()
}

// Bytes returns the section's raw contents. The returned slice aliases the
// section's storage and must not be retained across further Append calls.
func (s *Section) Bytes() []byte {
	return s.buf.Bytes()
}

// VA returns the section's absolute virtual address, or 0 if layout has not
// assigned one yet.
func (s *Section) VA() uint32 {
	return s.va
}

// SetVA assigns the section's absolute virtual address at link-time layout.
func (s *Section) SetVA(va uint32) {
	s.va = va
}

// Append writes raw bytes to the end of the section.
func (s *Section) Append(bs ...byte) {
	s.buf.Write(bs)
	diag.Tracef("%s: +%d bytes at %#x", s.Name, len(bs), s.Offset()-uint32(len(bs)))
}

// AppendU32LE writes a little-endian 32-bit value.
func (s *Section) AppendU32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.Append(b[:]...)
}

// AppendString writes the UTF-8 bytes of s followed by a single NUL byte,
// as used for both string-literal interning and Hint/Name and DLL-name
// entries in the import directory.
func (s *Section) AppendString(str string) {
	s.Append([]byte(str)...)
	s.Append(0)
}

// PatchU32 overwrites 4 bytes at offset with a little-endian value. It is
// the write-side half of relocation resolution and implements the
// link.Target interface without this package needing to import link.
func (s *Section) PatchU32(offset uint32, v uint32) {
	b := s.buf.Bytes()
	binary.LittleEndian.PutUint32(b[offset:offset+4], v)
}

// PlaceholderU32 appends 4 zero bytes and returns the offset they start
// at — the append half of recording a patch site alongside the reserved
// bytes it will later overwrite.
func (s *Section) PlaceholderU32() uint32 {
	off := s.Offset()
	s.Append(0, 0, 0, 0)
	return off
}
