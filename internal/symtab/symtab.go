// Package symtab is the symbol table: one physical map from name to
// Symbol covering user functions and imported functions, plus a separate
// deduplicating string pool. Name resolution happens only at link time —
// call sites always hold an Address handle, never a name, once parsing has
// looked the name up.
package symtab

import (
	"sort"

	"github.com/xyproto/minilang32/internal/link"
)

// Symbol binds a name to an Address, recording where it was first
// referenced and whether it names an imported function.
type Symbol struct {
	Name     string
	Addr     *link.Address
	Line     int
	Col      int
	IsImport bool
}

// Table is the single name->Symbol map for user and imported functions.
// String literals live in a separate pool since they're keyed by content,
// not by a source identifier.
type Table struct {
	syms    map[string]*Symbol
	strings map[string]*link.Address
	order   []string // insertion order, for deterministic iteration
}

// New returns an empty symbol table.
func New() *Table {
	return &Table{
		syms:    make(map[string]*Symbol),
		strings: make(map[string]*link.Address),
	}
}

// Lookup returns the symbol for name, if one has been referenced or
// defined already.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	s, ok := t.syms[name]
	return s, ok
}

// GetOrCreate returns the existing symbol for name, or creates a fresh one
// with an undefined Address (a forward reference) the first time name is
// seen — whether from a call site or a definition.
func (t *Table) GetOrCreate(name string, line, col int) *Symbol {
	if s, ok := t.syms[name]; ok {
		return s
	}
	s := &Symbol{Name: name, Addr: link.NewAddress(name), Line: line, Col: col}
	t.syms[name] = s
	t.order = append(t.order, name)
	return s
}

// MarkImport flags name as naming an imported function (its user symbol is
// a thunk, not a directly-defined function body).
func (t *Table) MarkImport(name string) {
	if s, ok := t.syms[name]; ok {
		s.IsImport = true
	}
}

// InternString deduplicates a string literal by its decoded byte content,
// returning the same Address for the same content every time, creating one
// the first time content is seen via the supplied allocator.
func (t *Table) InternString(content string, alloc func() *link.Address) *link.Address {
	if a, ok := t.strings[content]; ok {
		return a
	}
	a := alloc()
	t.strings[content] = a
	return a
}

// Addresses returns every Address ever created through GetOrCreate or
// InternString, in deterministic (insertion, then string-content) order,
// for the link pass to walk.
func (t *Table) Addresses() []*link.Address {
	addrs := make([]*link.Address, 0, len(t.syms)+len(t.strings))
	for _, name := range t.order {
		addrs = append(addrs, t.syms[name].Addr)
	}
	keys := make([]string, 0, len(t.strings))
	for k := range t.strings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addrs = append(addrs, t.strings[k])
	}
	return addrs
}

// Symbols returns every user/import symbol in insertion order.
func (t *Table) Symbols() []*Symbol {
	syms := make([]*Symbol, 0, len(t.order))
	for _, name := range t.order {
		syms = append(syms, t.syms[name])
	}
	return syms
}
