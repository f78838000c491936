package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/minilang32/internal/link"
)

func TestGetOrCreateReturnsSameSymbolOnRepeatedLookup(t *testing.T) {
	tab := New()
	a := tab.GetOrCreate("main", 1, 1)
	b := tab.GetOrCreate("main", 99, 99)
	assert.Same(t, a, b)
	assert.Equal(t, 1, a.Line, "first-seen position is kept, not overwritten by a later reference")
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	tab := New()
	_, ok := tab.Lookup("nope")
	assert.False(t, ok)
}

func TestMarkImportFlagsExistingSymbol(t *testing.T) {
	tab := New()
	tab.GetOrCreate("printf", 1, 1)
	tab.MarkImport("printf")

	sym, ok := tab.Lookup("printf")
	require.True(t, ok)
	assert.True(t, sym.IsImport)
}

func TestInternStringDeduplicatesByContent(t *testing.T) {
	tab := New()
	calls := 0
	alloc := func() *link.Address {
		calls++
		return link.NewAddress("$str")
	}

	a := tab.InternString("hello\n", alloc)
	b := tab.InternString("hello\n", alloc)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)

	c := tab.InternString("bye\n", alloc)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, calls)
}

func TestAddressesOrdersSymbolsBeforeSortedStrings(t *testing.T) {
	tab := New()
	tab.GetOrCreate("main", 1, 1)
	tab.GetOrCreate("helper", 2, 1)
	zzz := tab.InternString("zzz", func() *link.Address { return link.NewAddress("$str") })
	aaa := tab.InternString("aaa", func() *link.Address { return link.NewAddress("$str") })

	addrs := tab.Addresses()
	require.Len(t, addrs, 4)
	assert.Equal(t, "main", addrs[0].Name)
	assert.Equal(t, "helper", addrs[1].Name)
	assert.Same(t, aaa, addrs[2])
	assert.Same(t, zzz, addrs[3])
}

func TestSymbolsPreservesInsertionOrder(t *testing.T) {
	tab := New()
	tab.GetOrCreate("b", 1, 1)
	tab.GetOrCreate("a", 1, 1)
	syms := tab.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, "b", syms[0].Name)
	assert.Equal(t, "a", syms[1].Name)
}
