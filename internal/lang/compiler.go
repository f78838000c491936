package lang

import (
	"github.com/xyproto/minilang32/internal/link"
	"github.com/xyproto/minilang32/internal/pe"
	"github.com/xyproto/minilang32/internal/symtab"
	"github.com/xyproto/minilang32/internal/x86"
)

// Compiler is the process-wide context threaded through every input
// file's parse: one symbol table, one encoder, one PE builder, shared
// across however many source files are given on the command line so every
// file's symbols land in the same global namespace, not a namespace per
// file. There is deliberately no ambient singleton here — a caller builds
// one Compiler and passes it to every Parser explicitly.
type Compiler struct {
	Builder *pe.Builder
	Enc     *x86.Encoder
	Syms    *symtab.Table

	// extra holds addresses created outside the symbol table and the PE
	// builder's import list (currently just the synthetic entry point and
	// its trailing spin label) so Addresses can still hand every one of
	// them to the link pass.
	extra []*link.Address
}

// track records addr so Addresses returns it alongside the symbol table's
// and the PE builder's addresses. Every Address this package creates must
// be reachable from Addresses, or its patches silently never resolve.
func (c *Compiler) track(addr *link.Address) *link.Address {
	c.extra = append(c.extra, addr)
	return addr
}

// NewCompiler wires a fresh PE builder, encoder and symbol table
// together.
func NewCompiler() *Compiler {
	b := pe.New()
	return &Compiler{
		Builder: b,
		Enc:     x86.New(b.Text()),
		Syms:    symtab.New(),
	}
}

// defineHere defines addr at the current end of .text. Every label this
// compiler creates — function entries, import thunks, the synthetic
// _start — names a position already emitted, never a position computed
// ahead of time.
func (c *Compiler) defineHere(addr *link.Address) {
	addr.Define(c.Builder.Text().VA() + c.Builder.Text().Offset())
}

// EmitStart emits the synthetic entry point: call main, push its return
// value, hand it to msvcrt's exit, then spin in place in case exit ever
// returns control. It must run before any source file is parsed so
// _start is the first thing in .text and so the call to `main` is a
// genuine forward reference — main is not defined yet, possibly not even
// parsed yet — exercising the same Address/patch machinery every other
// call site uses.
func (c *Compiler) EmitStart() {
	start := c.track(link.NewAddress("_start"))
	c.defineHere(start)
	c.Builder.SetEntry(start)

	main := c.Syms.GetOrCreate("main", 0, 0)
	c.Enc.CallRel32(main.Addr)
	c.Enc.PushReg(x86.EAX)

	exitSlot := c.Builder.Import("msvcrt.dll", "exit")
	c.Enc.CallIndirect(exitSlot)

	spin := c.track(link.NewAddress("_start.spin"))
	c.defineHere(spin)
	c.Enc.JmpRel32(spin)
}

// Addresses collects every Address the link pass must walk: user and
// import symbols and interned strings from the symbol table, every
// import's IAT slot (referenced by call/jmp sites but never looked up by
// name, so the symbol table alone wouldn't surface them), and any address
// created directly by the compiler itself (the entry point and its spin
// label).
func (c *Compiler) Addresses() []*link.Address {
	addrs := c.Syms.Addresses()
	addrs = append(addrs, c.Builder.ImportAddresses()...)
	return append(addrs, c.extra...)
}
