package lang

import (
	"strconv"

	"github.com/xyproto/minilang32/internal/diag"
	"github.com/xyproto/minilang32/internal/link"
	"github.com/xyproto/minilang32/internal/x86"
)

// Parser drives one source file's parse directly into the shared
// Compiler's encoder, symbol table and PE builder. It recognizes the
// language's grammar and, for every rule, emits the instructions that
// rule means — there is no separate "build a tree, then walk it" phase.
type Parser struct {
	c        *Compiler
	filename string
	lex      *Lexer
	cur, nxt Token

	namespace string         // current class prefix, "" outside a class
	frame     map[string]int // parameter name -> index, within a function body
}

// NewParser returns a parser for source, reporting diagnostics against
// filename.
func NewParser(c *Compiler, filename, source string) *Parser {
	p := &Parser{c: c, filename: filename, lex: NewLexer(source)}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.nxt
	p.nxt = p.lex.Next()
}

// fail reports a parse error at the current token and unwinds to
// CompileToBuilder's recover.
func (p *Parser) fail(format string, args ...interface{}) {
	panic(diag.SourceError(p.filename, p.cur.Line, p.cur.Col, format, args...))
}

func (p *Parser) failAt(t Token, format string, args ...interface{}) {
	panic(diag.SourceError(p.filename, t.Line, t.Col, format, args...))
}

func (p *Parser) atPunct(text string) bool {
	return p.cur.Kind == Other && p.cur.Text == text
}

func (p *Parser) expectPunct(text string) {
	if !p.atPunct(text) {
		p.fail("expected %q, got %q", text, p.cur.Text)
	}
	p.advance()
}

func (p *Parser) expectKeyword(text string) {
	if !p.cur.is(text) {
		p.fail("expected %q, got %q", text, p.cur.Text)
	}
	p.advance()
}

func (p *Parser) expectIdent() string {
	if p.cur.Kind != Ident {
		p.fail("expected identifier, got %q", p.cur.Text)
	}
	name := p.cur.Text
	p.advance()
	return name
}

// Parse consumes topdecls until end of file.
func (p *Parser) Parse() {
	for p.cur.Kind != EOF {
		p.topDecl()
	}
}

func (p *Parser) topDecl() {
	switch {
	case p.cur.is("function"):
		p.function()
	case p.cur.is("class"):
		p.class()
	case p.cur.is("import"):
		p.importDecl()
	default:
		p.fail("expected function, class or import, got %q", p.cur.Text)
	}
}

func (p *Parser) function() {
	p.advance() // "function"
	name := p.expectIdent()
	if p.namespace != "" {
		name = p.namespace + "'" + name
	}

	p.expectPunct("(")
	var params []string
	if !p.atPunct(")") {
		params = append(params, p.expectIdent())
		for p.atPunct(",") {
			p.advance()
			params = append(params, p.expectIdent())
		}
	}
	p.expectPunct(")")

	sym := p.c.Syms.GetOrCreate(name, p.cur.Line, p.cur.Col)
	p.c.defineHere(sym.Addr)

	prevFrame := p.frame
	p.frame = make(map[string]int, len(params))
	for i, param := range params {
		p.frame[param] = i
	}

	p.c.Enc.PushReg(x86.EBP)
	p.c.Enc.MovRegToReg(x86.EBP, x86.ESP)

	sawReturn := false
	for !p.cur.is("end") {
		if p.cur.Kind == EOF {
			p.fail("unexpected end of file in body of function %q", name)
		}
		sawReturn = p.stmt()
	}
	p.advance() // "end"
	p.expectKeyword("function")

	if !sawReturn {
		p.c.Enc.Leave()
		p.c.Enc.Ret()
	}

	p.frame = prevFrame
}

func (p *Parser) class() {
	p.advance() // "class"
	if p.namespace != "" {
		p.fail("nested classes are not supported")
	}
	name := p.expectIdent()
	p.namespace = name

	for p.cur.is("function") {
		p.function()
	}
	if !p.cur.is("end") {
		p.fail("expected function or end, got %q", p.cur.Text)
	}
	p.advance() // "end"
	p.expectKeyword("class")

	p.namespace = ""
}

func (p *Parser) importDecl() {
	p.advance() // "import"
	if p.cur.Kind != String {
		p.fail("expected a quoted DLL name, got %q", p.cur.Text)
	}
	dll := p.cur.Text
	p.advance()
	p.expectKeyword("cdecl")

	line, col := p.cur.Line, p.cur.Col
	name := p.expectIdent()

	slot := p.c.Builder.Import(dll, name)
	sym := p.c.Syms.GetOrCreate(name, line, col)
	p.c.Syms.MarkImport(name)
	p.c.defineHere(sym.Addr)
	p.c.Enc.JmpIndirect(slot)
}

// stmt emits one statement's code and reports whether it was a return —
// the function epilogue is only implicit when the last statement wasn't
// one.
func (p *Parser) stmt() bool {
	if p.cur.is("return") {
		p.advance()
		if p.cur.Kind != Number {
			p.fail("expected an integer literal after return, got %q", p.cur.Text)
		}
		v := p.parseNumber(p.cur)
		p.advance()
		p.c.Enc.MovRegImm32(x86.EAX, v)
		p.c.Enc.Leave()
		p.c.Enc.Ret()
		return true
	}
	p.call()
	return false
}

// call emits a full call site: arguments are parsed left-to-right,
// pushed right-to-left, then `call rel32` to the (possibly still
// forward-referenced) target, cleaning up the stack with
// `add esp, nargs*4` when there were any arguments at all (cdecl: the
// caller pushes arguments and cleans up its own stack).
func (p *Parser) call() {
	line, col := p.cur.Line, p.cur.Col
	name := p.expectIdent()
	p.expectPunct("(")

	var args []Token
	if !p.atPunct(")") {
		args = append(args, p.arg())
		for p.atPunct(",") {
			p.advance()
			args = append(args, p.arg())
		}
	}
	p.expectPunct(")")

	for i := len(args) - 1; i >= 0; i-- {
		p.pushArg(args[i])
	}

	target := p.c.Syms.GetOrCreate(name, line, col)
	p.c.Enc.CallRel32(target.Addr)
	if len(args) > 0 {
		p.c.Enc.AddRegImm32(x86.ESP, uint32(len(args))*4)
	}
}

func (p *Parser) arg() Token {
	switch p.cur.Kind {
	case Ident, Number, String:
		t := p.cur
		p.advance()
		return t
	default:
		p.fail("expected an identifier, number or string argument, got %q", p.cur.Text)
		panic("unreachable")
	}
}

// pushArg emits the push for one already-parsed argument token, in the
// form appropriate to its kind: an immediate, a pointer into the interned
// string pool, or a frame-relative load of a parameter.
func (p *Parser) pushArg(t Token) {
	switch t.Kind {
	case Number:
		p.c.Enc.PushImm32(p.parseNumber(t))
	case String:
		addr := p.internString(t.Text)
		p.c.Enc.PushAddr(addr, link.Abs32)
	case Ident:
		idx, ok := p.frame[t.Text]
		if !ok {
			p.failAt(t, "undefined variable %q", t.Text)
		}
		p.c.Enc.MovRegToReg(x86.EAX, x86.EBP)
		p.c.Enc.AddRegImm32(x86.EAX, uint32(idx+2)*4)
		p.c.Enc.PushMemReg(x86.EAX)
	}
}

// internString deduplicates content against the symbol table's string
// pool, appending a new NUL-terminated copy into .data only the first
// time a given content is seen.
func (p *Parser) internString(content string) *link.Address {
	return p.c.Syms.InternString(content, func() *link.Address {
		a := link.NewAddress("$str")
		off := p.c.Builder.Data().Offset()
		p.c.Builder.Data().AppendString(content)
		p.c.Builder.RegisterDataAddr(off, a)
		return a
	})
}

func (p *Parser) parseNumber(t Token) uint32 {
	v, err := strconv.ParseUint(t.Text, 10, 32)
	if err != nil {
		p.failAt(t, "invalid integer literal %q", t.Text)
	}
	return uint32(v)
}
