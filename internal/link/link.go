// Package link implements forward references as Addresses with zero or
// more pending patch sites, resolved in one pass once every Address that
// was ever referenced has a definition.
package link

import (
	"fmt"
	"sort"
)

// Kind is one of the three relocation kinds a patch site can record.
type Kind int

const (
	// Abs32 is an absolute 4-byte little-endian value.
	Abs32 Kind = iota
	// Rel32 is a 4-byte signed displacement relative to the instruction end.
	Rel32
	// Indirect32 is an absolute 4-byte pointer slot (an IAT entry address),
	// patched exactly like Abs32 — the distinction is purely about what the
	// Address conceptually identifies, not how the bytes are resolved.
	Indirect32
)

// Target is the subset of Section's behavior the linker needs: a place to
// write resolved bytes, and the absolute VA that offsets within it are
// relative to. Section implements this structurally; this package never
// imports the section package, keeping the dependency one-directional.
type Target interface {
	PatchU32(offset uint32, value uint32)
	VA() uint32
}

// patch is one pending fixup site: rewrite 4 bytes at offset within target
// once the owning Address is defined.
type patch struct {
	target Target
	offset uint32
	kind   Kind
}

// Address is a relocatable reference: a definition slot (zero until link
// time) plus every patch site that must be rewritten once it's known.
type Address struct {
	Name    string
	value   uint32
	defined bool
	patches []patch
}

// NewAddress creates an address with an undefined definition slot.
func NewAddress(name string) *Address {
	return &Address{Name: name}
}

// Defined reports whether Define has been called.
func (a *Address) Defined() bool {
	return a.defined
}

// Value returns the absolute address once defined. Calling it before
// Define panics — every reader of an Address must go through the patch
// system or check Defined first.
func (a *Address) Value() uint32 {
	if !a.defined {
		panic(fmt.Sprintf("link: %s read before definition", a.Name))
	}
	return a.value
}

// Define sets the Address's definition slot to an absolute image address.
// It may be called exactly once; calling it again is a compiler bug, not a
// user-facing error, so it panics.
func (a *Address) Define(value uint32) {
	if a.defined {
		panic(fmt.Sprintf("link: %s defined twice", a.Name))
	}
	a.value = value
	a.defined = true
}

// Use enqueues a fixup: target's 4 bytes at offset must be rewritten with
// this Address's resolved value (per kind) once it is defined. Callers
// still have to reserve the 4 placeholder bytes themselves
// (Section.PlaceholderU32), since only the section knows how to do that.
func (a *Address) Use(target Target, offset uint32, kind Kind) {
	a.patches = append(a.patches, patch{target: target, offset: offset, kind: kind})
}

// Resolve walks every recorded patch across every address and rewrites the
// fixup bytes. Addresses with pending patches but no definition are
// reported as undefined symbols, sorted by name for deterministic output,
// and no patching for them is attempted. It deliberately does not
// special-case "this address was already defined when Use was called" —
// every patch for every address, defined early or late, goes through the
// same rewrite here.
func Resolve(addrs []*Address) []error {
	var undefined []string
	for _, a := range addrs {
		if !a.defined {
			if len(a.patches) > 0 {
				undefined = append(undefined, a.Name)
			}
			continue
		}
		for _, p := range a.patches {
			switch p.kind {
			case Abs32, Indirect32:
				p.target.PatchU32(p.offset, a.value)
			case Rel32:
				siteVA := p.target.VA() + p.offset
				rel := int32(a.value) - int32(siteVA+4)
				p.target.PatchU32(p.offset, uint32(rel))
			}
		}
	}
	if len(undefined) == 0 {
		return nil
	}
	sort.Strings(undefined)
	errs := make([]error, len(undefined))
	for i, name := range undefined {
		errs[i] = fmt.Errorf("undefined: %s", name)
	}
	return errs
}
