package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/minilang32/internal/link"
	"github.com/xyproto/minilang32/internal/section"
)

func newEncoder() (*Encoder, *section.Section) {
	text := section.New(".text", section.Code)
	return New(text), text
}

func TestPushImm32(t *testing.T) {
	e, text := newEncoder()
	e.PushImm32(0x11223344)
	assert.Equal(t, []byte{0x68, 0x44, 0x33, 0x22, 0x11}, text.Bytes())
}

func TestPushReg(t *testing.T) {
	e, text := newEncoder()
	e.PushReg(EBP)
	assert.Equal(t, []byte{0x55}, text.Bytes())
}

func TestPushMemRegRejectsEspAndEbp(t *testing.T) {
	e, _ := newEncoder()
	assert.Panics(t, func() { e.PushMemReg(ESP) })
	assert.Panics(t, func() { e.PushMemReg(EBP) })
}

func TestPushMemReg(t *testing.T) {
	e, text := newEncoder()
	e.PushMemReg(EAX)
	assert.Equal(t, []byte{0xFF, 0x30}, text.Bytes())
}

func TestPopReg(t *testing.T) {
	e, text := newEncoder()
	e.PopReg(EDI)
	assert.Equal(t, []byte{0x5F}, text.Bytes())
}

func TestMovRegImm32(t *testing.T) {
	e, text := newEncoder()
	e.MovRegImm32(EAX, 7)
	assert.Equal(t, []byte{0xB8, 0x07, 0x00, 0x00, 0x00}, text.Bytes())
}

func TestMovRegToReg(t *testing.T) {
	e, text := newEncoder()
	e.MovRegToReg(EBP, ESP)
	// 89 /r encodes dst in r/m, src in reg: mod=11, reg=ESP(4), rm=EBP(5)
	assert.Equal(t, []byte{0x89, 0xE5}, text.Bytes())
}

func TestAddRegImm32AlwaysUsesImm32Form(t *testing.T) {
	e, text := newEncoder()
	e.AddRegImm32(ESP, 4)
	assert.Equal(t, []byte{0x81, 0xC4, 0x04, 0x00, 0x00, 0x00}, text.Bytes())
}

func TestIncReg(t *testing.T) {
	e, text := newEncoder()
	e.IncReg(ECX)
	assert.Equal(t, []byte{0x41}, text.Bytes())
}

func TestCmpRegImm32(t *testing.T) {
	e, text := newEncoder()
	e.CmpRegImm32(EAX, 0)
	assert.Equal(t, []byte{0x81, 0xF8, 0x00, 0x00, 0x00, 0x00}, text.Bytes())
}

func TestRetAndLeave(t *testing.T) {
	e, text := newEncoder()
	e.Leave()
	e.Ret()
	assert.Equal(t, []byte{0xC9, 0xC3}, text.Bytes())
}

func TestCallRel32RecordsRel32Patch(t *testing.T) {
	e, text := newEncoder()
	target := link.NewAddress("callee")
	e.CallRel32(target)
	assert.Equal(t, []byte{0xE8, 0, 0, 0, 0}, text.Bytes())

	target.Define(text.VA() + 100)
	require.Empty(t, link.Resolve([]*link.Address{target}))
	// rel32 = 100 - (site offset 1 + 4) = 95
	assert.Equal(t, []byte{0xE8, 0x5F, 0, 0, 0}, text.Bytes())
}

func TestCallIndirectAndJmpIndirectUseDisp32Form(t *testing.T) {
	e, text := newEncoder()
	iat := link.NewAddress("iat")
	e.CallIndirect(iat)
	assert.Equal(t, []byte{0xFF, 0x15, 0, 0, 0, 0}, text.Bytes())

	e2, text2 := newEncoder()
	e2.JmpIndirect(iat)
	assert.Equal(t, []byte{0xFF, 0x25, 0, 0, 0, 0}, text2.Bytes())
}

func TestJnzEncoding(t *testing.T) {
	e, text := newEncoder()
	target := link.NewAddress("loop")
	e.Jnz(target)
	assert.Equal(t, []byte{0x0F, 0x85, 0, 0, 0, 0}, text.Bytes())
}

func TestRegString(t *testing.T) {
	assert.Equal(t, "eax", EAX.String())
	assert.Equal(t, "edi", EDI.String())
}
