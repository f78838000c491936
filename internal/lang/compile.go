package lang

import (
	"fmt"
	"os"

	"github.com/xyproto/minilang32/internal/diag"
)

// CompileToBuilder parses every file in order into one shared Compiler
// context — all of them contributing to a single, shared symbol
// namespace — and emits the synthetic entry point first. Any parse panic
// is recovered here and turned into a returned error; nothing below this point ever
// lets a panic reach the caller. Layout and linking are left to the
// caller's subsequent Builder.Write, so a caller wanting a pre-write
// disassembly or inspection hook has something to act on.
func CompileToBuilder(files []string) (c *Compiler, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()

	c = NewCompiler()
	c.EmitStart()

	for _, path := range files {
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("%s: %w", path, readErr)
		}
		diag.Tracef("lang: parsing %s", path)
		p := NewParser(c, path, string(src))
		p.Parse()
	}

	return c, nil
}

// Compile is CompileToBuilder followed immediately by a link and write
// to outputPath — the shape the CLI driver needs when it has no reason
// to inspect the Compiler in between.
func Compile(files []string, outputPath string) error {
	c, err := CompileToBuilder(files)
	if err != nil {
		return err
	}
	return c.Builder.Write(outputPath, c.Addresses())
}
