// Package pe builds the PE image: it owns the .text, .data and .idata
// sections, assigns every section a virtual address and file offset,
// builds the import directory, runs the link-time patch pass, and writes a
// complete PE32 console executable for 32-bit Windows.
package pe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/xyproto/minilang32/internal/diag"
	"github.com/xyproto/minilang32/internal/link"
	"github.com/xyproto/minilang32/internal/section"
)

const (
	// ImageBase is the fixed, non-relocated load address.
	ImageBase = 0x00400000
	// SectionAlignment is the in-memory alignment of each section.
	SectionAlignment = 0x1000
	// FileAlignment is the on-disk alignment of each section's raw data.
	FileAlignment = 0x200

	machineI386           = 0x014C
	optionalHeaderSize    = 224 // IMAGE_OPTIONAL_HEADER32, 16 data directories
	sectionHeaderSize     = 40
	numberOfSections      = 3
	coffHeaderSize        = 20
	peSignatureSize       = 4
	dosHeaderAndStubSize  = 0x80 // e_lfanew
	numberOfDataDirs      = 16
	importDataDirectory   = 1
	characteristicsImage  = 0x0002 | 0x0100 // EXECUTABLE_IMAGE | 32BIT_MACHINE
	subsystemWindowsCUI   = 3
	optionalHeaderMagic32 = 0x10B

	scnCntCode     = 0x00000020
	scnCntInitData = 0x00000040
	scnMemExecute  = 0x20000000
	scnMemRead     = 0x40000000
	scnMemWrite    = 0x80000000
)

type importKey struct{ dll, name string }

type dataFixup struct {
	offset uint32
	addr   *link.Address
}

// dllLayout is the computed byte layout of one DLL's ILT/IAT/Hint-Name/name
// entries within .idata, filled in by the first pass of
// buildImportDirectory before any bytes are written.
type dllLayout struct {
	name     string
	funcs    []string
	iltOff   uint32
	iatOff   uint32
	hintOffs []uint32
	nameOff  uint32
}

// Builder lays out a PE32 image around three sections and the import
// directory they reference.
type Builder struct {
	text  *section.Section
	data  *section.Section
	idata *section.Section

	dllOrder   []string
	funcsByDLL map[string][]string
	iatAddr    map[importKey]*link.Address

	pendingData []dataFixup
	entry       *link.Address
}

// New creates a builder with .text pinned at its final virtual address —
// the first section after the headers always lands at the same fixed RVA,
// so function addresses can be Defined immediately as they're parsed,
// before .data or .idata know their own addresses.
func New() *Builder {
	text := section.New(".text", section.Code)
	text.SetVA(ImageBase + SectionAlignment)
	return &Builder{
		text:       text,
		data:       section.New(".data", section.Data),
		idata:      section.New(".idata", section.Data),
		funcsByDLL: make(map[string][]string),
		iatAddr:    make(map[importKey]*link.Address),
	}
}

// Text returns the code section.
func (b *Builder) Text() *section.Section { return b.text }

// Data returns the data section (string literals and any data symbols).
func (b *Builder) Data() *section.Section { return b.data }

// Import registers (dll, name) if not already seen and returns the
// Indirect32 Address of its IAT slot. The same (dll, name) pair always
// returns the same Address.
func (b *Builder) Import(dll, name string) *link.Address {
	key := importKey{dll, name}
	if a, ok := b.iatAddr[key]; ok {
		return a
	}
	if _, ok := b.funcsByDLL[dll]; !ok {
		b.dllOrder = append(b.dllOrder, dll)
	}
	b.funcsByDLL[dll] = append(b.funcsByDLL[dll], name)
	a := link.NewAddress(fmt.Sprintf("%s!%s@iat", dll, name))
	b.iatAddr[key] = a
	return a
}

// ImportAddresses returns the Indirect32 Address of every registered
// import's IAT slot, sorted by (dll, name) for deterministic link-pass
// ordering. Callers must include these in the slice passed to
// link.Resolve: buildImportDirectory defines each one during layout, but
// only Resolve rewrites the call/jmp sites that reference them.
func (b *Builder) ImportAddresses() []*link.Address {
	keys := make([]importKey, 0, len(b.iatAddr))
	for k := range b.iatAddr {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dll != keys[j].dll {
			return keys[i].dll < keys[j].dll
		}
		return keys[i].name < keys[j].name
	})
	addrs := make([]*link.Address, len(keys))
	for i, k := range keys {
		addrs[i] = b.iatAddr[k]
	}
	return addrs
}

// RegisterDataAddr defers an Address's definition until .data's virtual
// address is known at layout time: offset is the Address's position within
// .data, measured from the start of the section.
func (b *Builder) RegisterDataAddr(offset uint32, addr *link.Address) {
	b.pendingData = append(b.pendingData, dataFixup{offset: offset, addr: addr})
}

// SetEntry records the Address that AddressOfEntryPoint must point at.
func (b *Builder) SetEntry(addr *link.Address) {
	b.entry = addr
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Write finalizes layout, builds the import directory, resolves every
// pending patch against addrs, and writes the complete PE image to path.
// On an undefined-symbol error, no file is written and the returned error
// lists every undefined symbol as "undefined: <name>", one per line.
func (b *Builder) Write(path string, addrs []*link.Address) error {
	dataVA := b.text.VA() + alignUp(b.text.Len(), SectionAlignment)
	b.data.SetVA(dataVA)
	for _, fx := range b.pendingData {
		fx.addr.Define(dataVA + fx.offset)
	}

	idataVA := dataVA + alignUp(b.data.Len(), SectionAlignment)
	b.buildImportDirectory(idataVA)
	b.idata.SetVA(idataVA)

	if errs := link.Resolve(addrs); len(errs) > 0 {
		return errors.Join(errs...)
	}

	return b.writeImage(path)
}

// buildImportDirectory lays out and writes the Import Directory Table, the
// ILT/IAT pair per DLL, the Hint/Name pool and the DLL name strings, then
// defines every import's IAT Address at its resolved slot VA. Offsets are
// computed in a first pass (sizes are all known upfront) before any bytes
// are written, since RVAs earlier in the import directory depend on the
// sizes of data that comes later.
func (b *Builder) buildImportDirectory(idataVA uint32) {
	if len(b.dllOrder) == 0 {
		return
	}

	idtSize := uint32(len(b.dllOrder)+1) * 20
	cursor := idtSize

	layouts := make([]dllLayout, len(b.dllOrder))

	for i, dll := range b.dllOrder {
		funcs := b.funcsByDLL[dll]
		l := dllLayout{name: dll, funcs: funcs}
		l.iltOff = cursor
		tableSize := uint32(len(funcs)+1) * 4
		cursor += tableSize
		l.iatOff = cursor
		cursor += tableSize
		layouts[i] = l
	}
	for i := range layouts {
		layouts[i].hintOffs = make([]uint32, len(layouts[i].funcs))
		for j, fn := range layouts[i].funcs {
			layouts[i].hintOffs[j] = cursor
			entry := 2 + len(fn) + 1
			cursor += uint32(alignUp(uint32(entry), 2))
		}
	}
	for i := range layouts {
		layouts[i].nameOff = cursor
		cursor += uint32(len(layouts[i].name) + 1)
	}

	idataRVA := idataVA - ImageBase

	// Import Directory Table, one IMAGE_IMPORT_DESCRIPTOR per DLL.
	for _, l := range layouts {
		b.idata.AppendU32LE(idataRVA + l.iltOff)
		b.idata.AppendU32LE(0) // TimeDateStamp
		b.idata.AppendU32LE(0) // ForwarderChain
		b.idata.AppendU32LE(idataRVA + l.nameOff)
		b.idata.AppendU32LE(idataRVA + l.iatOff)
	}
	b.idata.AppendU32LE(0)
	b.idata.AppendU32LE(0)
	b.idata.AppendU32LE(0)
	b.idata.AppendU32LE(0)
	b.idata.AppendU32LE(0)

	// ILT, then IAT (identical contents — the loader overwrites the IAT at
	// load time, but an initial hint/name RVA keeps the slot well-formed).
	for _, l := range layouts {
		for _, off := range l.hintOffs {
			b.idata.AppendU32LE(idataRVA + off)
		}
		b.idata.AppendU32LE(0)
	}
	for _, l := range layouts {
		for i, off := range l.hintOffs {
			b.idata.AppendU32LE(idataRVA + off)
			slotOffset := l.iatOff + uint32(i)*4
			b.iatAddr[importKey{l.name, l.funcs[i]}].Define(idataVA + slotOffset)
		}
		b.idata.AppendU32LE(0)
	}

	// Hint/Name pool: each entry is a u16 hint (always 0, we never supply
	// ordinal hints) followed by the NUL-terminated function name, padded to
	// a 2-byte boundary.
	for _, l := range layouts {
		for _, fn := range l.funcs {
			b.idata.Append(0, 0)
			b.idata.AppendString(fn)
			if (2+len(fn)+1)%2 != 0 {
				b.idata.Append(0)
			}
		}
	}

	// DLL name pool.
	for _, l := range layouts {
		b.idata.AppendString(l.name)
	}
}

func (b *Builder) writeImage(path string) error {
	headerSize := alignUp(uint32(dosHeaderAndStubSize+peSignatureSize+coffHeaderSize+
		optionalHeaderSize+numberOfSections*sectionHeaderSize), FileAlignment)

	textRawSize := alignUp(b.text.Len(), FileAlignment)
	dataRawSize := alignUp(b.data.Len(), FileAlignment)
	idataRawSize := alignUp(b.idata.Len(), FileAlignment)

	textRaw := headerSize
	dataRaw := textRaw + textRawSize
	idataRaw := dataRaw + dataRawSize

	sizeOfImage := alignUp(b.idata.VA()-ImageBase+alignUp(b.idata.Len(), SectionAlignment), SectionAlignment)
	if len(b.dllOrder) == 0 {
		sizeOfImage = alignUp(b.data.VA()-ImageBase+alignUp(b.data.Len(), SectionAlignment), SectionAlignment)
	}

	var entryRVA uint32
	if b.entry != nil {
		entryRVA = b.entry.Value() - ImageBase
	}

	out := make([]byte, 0, headerSize+textRawSize+dataRawSize+idataRawSize)
	w := newImageWriter(&out)

	// DOS header + stub, padded to e_lfanew.
	w.u16(0x5A4D) // "MZ"
	w.zero(0x3C - 2)
	w.u32(dosHeaderAndStubSize)
	w.zero(dosHeaderAndStubSize - 0x40)

	// PE signature.
	w.u32(0x00004550)

	// COFF header.
	w.u16(machineI386)
	w.u16(numberOfSections)
	w.u32(0)
	w.u32(0)
	w.u32(0)
	w.u16(optionalHeaderSize)
	w.u16(characteristicsImage)

	// Optional header (PE32).
	w.u16(optionalHeaderMagic32)
	w.u8(1)
	w.u8(0)
	w.u32(b.text.Len())
	w.u32(b.data.Len() + b.idata.Len())
	w.u32(0)
	w.u32(entryRVA)
	w.u32(b.text.VA() - ImageBase)
	w.u32(b.data.VA() - ImageBase)
	w.u32(ImageBase)
	w.u32(SectionAlignment)
	w.u32(FileAlignment)
	w.u16(4)
	w.u16(0)
	w.u16(0)
	w.u16(0)
	w.u16(4)
	w.u16(0)
	w.u32(0)
	w.u32(sizeOfImage)
	w.u32(headerSize)
	w.u32(0)
	w.u16(subsystemWindowsCUI)
	w.u16(0)
	w.u32(0x100000)
	w.u32(0x1000)
	w.u32(0x100000)
	w.u32(0x1000)
	w.u32(0)
	w.u32(numberOfDataDirs)
	for i := 0; i < numberOfDataDirs; i++ {
		if i == importDataDirectory && len(b.dllOrder) > 0 {
			w.u32(b.idata.VA() - ImageBase)
			w.u32(b.idata.Len())
		} else {
			w.u32(0)
			w.u32(0)
		}
	}

	writeSectionHeader(w, ".text", b.text.Len(), b.text.VA()-ImageBase, textRawSize, textRaw,
		scnCntCode|scnMemExecute|scnMemRead)
	writeSectionHeader(w, ".data", b.data.Len(), b.data.VA()-ImageBase, dataRawSize, dataRaw,
		scnCntInitData|scnMemRead|scnMemWrite)
	writeSectionHeader(w, ".idata", b.idata.Len(), b.idata.VA()-ImageBase, idataRawSize, idataRaw,
		scnCntInitData|scnMemRead)

	w.padTo(headerSize)
	w.bytes(b.text.Bytes())
	w.padTo(textRaw + textRawSize)
	w.bytes(b.data.Bytes())
	w.padTo(dataRaw + dataRawSize)
	w.bytes(b.idata.Bytes())
	w.padTo(idataRaw + idataRawSize)

	diag.Tracef("pe: wrote %d bytes (text=%d data=%d idata=%d)", len(out), b.text.Len(), b.data.Len(), b.idata.Len())
	return os.WriteFile(path, out, 0o755)
}

func writeSectionHeader(w *imageWriter, name string, virtSize, virtAddr, rawSize, rawAddr, characteristics uint32) {
	nameBytes := make([]byte, 8)
	copy(nameBytes, name)
	w.bytes(nameBytes)
	w.u32(virtSize)
	w.u32(virtAddr)
	w.u32(rawSize)
	w.u32(rawAddr)
	w.u32(0)
	w.u32(0)
	w.u16(0)
	w.u16(0)
	w.u32(characteristics)
}

// imageWriter accumulates the final file image into a single growable
// buffer, offering the fixed-width writes a PE header needs without every
// call site reaching for encoding/binary directly.
type imageWriter struct {
	buf *[]byte
}

func newImageWriter(buf *[]byte) *imageWriter {
	return &imageWriter{buf: buf}
}

func (w *imageWriter) u8(v uint8) {
	*w.buf = append(*w.buf, v)
}

func (w *imageWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	*w.buf = append(*w.buf, b[:]...)
}

func (w *imageWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	*w.buf = append(*w.buf, b[:]...)
}

func (w *imageWriter) zero(n uint32) {
	*w.buf = append(*w.buf, make([]byte, n)...)
}

func (w *imageWriter) bytes(b []byte) {
	*w.buf = append(*w.buf, b...)
}

// padTo appends zero bytes until the buffer reaches offset. It is a no-op
// if the buffer has already reached or passed offset.
func (w *imageWriter) padTo(offset uint32) {
	if cur := uint32(len(*w.buf)); cur < offset {
		*w.buf = append(*w.buf, make([]byte, offset-cur)...)
	}
}

// DLLs returns a copy of the registered import DLLs, each mapped to its
// imported function names in registration order.
func (b *Builder) DLLs() map[string][]string {
	out := make(map[string][]string, len(b.dllOrder))
	for _, dll := range b.dllOrder {
		fns := append([]string(nil), b.funcsByDLL[dll]...)
		out[dll] = fns
	}
	return out
}

// SortedDLLNames returns the registered DLL names in deterministic order.
func (b *Builder) SortedDLLNames() []string {
	names := append([]string(nil), b.dllOrder...)
	sort.Strings(names)
	return names
}
