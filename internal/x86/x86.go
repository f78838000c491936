// Package x86 is the instruction encoder: it emits byte-accurate
// 32-bit x86 encodings for the fixed instruction set this compiler needs,
// appending bytes to a .text section and routing any relocatable operand
// through the link package.
//
// The source project expressed operand forms ([reg], ptr[addr], ...) with
// overloaded operators and indexer syntax; here they're plain Go values
// passed to dedicated methods instead of a tagged-operand DSL, since every
// call site already knows which form it needs.
package x86

import (
	"fmt"

	"github.com/xyproto/minilang32/internal/link"
	"github.com/xyproto/minilang32/internal/section"
)

// Reg is a 32-bit general-purpose register, encoded exactly as the x86 ModRM
// reg/rm field expects.
type Reg uint8

const (
	EAX Reg = 0
	ECX Reg = 1
	EDX Reg = 2
	EBX Reg = 3
	ESP Reg = 4
	EBP Reg = 5
	ESI Reg = 6
	EDI Reg = 7
)

func (r Reg) String() string {
	return [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}[r]
}

// Encoder appends instructions to a single .text section.
type Encoder struct {
	Text *section.Section
}

// New returns an encoder that emits into text.
func New(text *section.Section) *Encoder {
	return &Encoder{Text: text}
}

// modrmReg encodes a register-direct ModRM byte (mod=11) with the given
// reg-field value (either another register or an opcode extension).
func modrmReg(regField, rm Reg) byte {
	return 0xC0 | byte(regField)<<3 | byte(rm)
}

// PushImm32 emits "push imm32": 68 <imm32>.
func (e *Encoder) PushImm32(v uint32) {
	e.Text.Append(0x68)
	e.Text.AppendU32LE(v)
}

// PushAddr emits "push imm32" whose immediate is a relocatable Address.
func (e *Encoder) PushAddr(a *link.Address, kind link.Kind) {
	e.Text.Append(0x68)
	off := e.Text.PlaceholderU32()
	a.Use(e.Text, off, kind)
}

// PushReg emits "push reg32": 50+rd.
func (e *Encoder) PushReg(r Reg) {
	e.Text.Append(0x50 + byte(r))
}

// PushMemReg emits "push [reg32]": FF /6, mod=00, r/m=reg. Only valid for
// registers that need no SIB byte or displacement in this addressing form
// (not ESP or EBP); the emitter never generates those forms.
func (e *Encoder) PushMemReg(r Reg) {
	if r == ESP || r == EBP {
		panic(fmt.Sprintf("x86: push [%s] needs a SIB/disp8 form not supported here", r))
	}
	e.Text.Append(0xFF, 0x30|byte(r))
}

// PopReg emits "pop reg32": 58+rd.
func (e *Encoder) PopReg(r Reg) {
	e.Text.Append(0x58 + byte(r))
}

// MovRegImm32 emits "mov reg32, imm32": B8+rd <imm32>.
func (e *Encoder) MovRegImm32(r Reg, v uint32) {
	e.Text.Append(0xB8 + byte(r))
	e.Text.AppendU32LE(v)
}

// MovRegAddr emits "mov reg32, imm32" whose immediate is a relocatable
// Address (e.g. a data-section pointer).
func (e *Encoder) MovRegAddr(r Reg, a *link.Address, kind link.Kind) {
	e.Text.Append(0xB8 + byte(r))
	off := e.Text.PlaceholderU32()
	a.Use(e.Text, off, kind)
}

// MovRegToReg emits "mov dst, src": 89 /r, mod=11.
func (e *Encoder) MovRegToReg(dst, src Reg) {
	e.Text.Append(0x89, modrmReg(src, dst))
}

// AddRegImm32 emits "add reg32, imm32": 81 /0 <imm32>. The shorter 83 /0
// imm8 form for small immediates is intentionally never chosen: this
// compiler performs no optimization, so encoding is always the
// unconditional 81 form for determinism.
func (e *Encoder) AddRegImm32(r Reg, v uint32) {
	e.Text.Append(0x81, modrmReg(0, r))
	e.Text.AppendU32LE(v)
}

// IncReg emits "inc reg32": 40+rd.
func (e *Encoder) IncReg(r Reg) {
	e.Text.Append(0x40 + byte(r))
}

// CmpRegImm32 emits "cmp reg32, imm32": 81 /7 <imm32>.
func (e *Encoder) CmpRegImm32(r Reg, v uint32) {
	e.Text.Append(0x81, modrmReg(7, r))
	e.Text.AppendU32LE(v)
}

// CallRel32 emits "call rel32": E8 <rel32>, patched against target.
func (e *Encoder) CallRel32(target *link.Address) {
	e.Text.Append(0xE8)
	off := e.Text.PlaceholderU32()
	target.Use(e.Text, off, link.Rel32)
}

// CallIndirect emits "call [mem32]": FF /2, mod=00, r/m=101 (disp32-only
// addressing), disp32 an Indirect32 patch against an IAT slot.
func (e *Encoder) CallIndirect(iatSlot *link.Address) {
	e.Text.Append(0xFF, 0x15)
	off := e.Text.PlaceholderU32()
	iatSlot.Use(e.Text, off, link.Indirect32)
}

// JmpRel32 emits "jmp rel32": E9 <rel32>.
func (e *Encoder) JmpRel32(target *link.Address) {
	e.Text.Append(0xE9)
	off := e.Text.PlaceholderU32()
	target.Use(e.Text, off, link.Rel32)
}

// JmpIndirect emits "jmp [mem32]": FF /4, mod=00, r/m=101, disp32 an
// Indirect32 patch. This is the body of every import thunk.
func (e *Encoder) JmpIndirect(iatSlot *link.Address) {
	e.Text.Append(0xFF, 0x25)
	off := e.Text.PlaceholderU32()
	iatSlot.Use(e.Text, off, link.Indirect32)
}

// Jnz emits "jnz rel32": 0F 85 <rel32>.
func (e *Encoder) Jnz(target *link.Address) {
	e.Text.Append(0x0F, 0x85)
	off := e.Text.PlaceholderU32()
	target.Use(e.Text, off, link.Rel32)
}

// Ret emits "ret": C3.
func (e *Encoder) Ret() {
	e.Text.Append(0xC3)
}

// Leave emits "leave": C9.
func (e *Encoder) Leave() {
	e.Text.Append(0xC9)
}
