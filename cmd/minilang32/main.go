// Command minilang32 compiles one or more source files into a single
// 32-bit Windows PE console executable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xyproto/minilang32/internal/diag"
	"github.com/xyproto/minilang32/internal/lang"
	"github.com/xyproto/minilang32/internal/x86"
)

var (
	flagOutput  string
	flagVerbose bool
	flagDumpAsm bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		diag.PrintFatal(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "minilang32 <source-file> [<source-file> ...]",
		Short: "Compile minilang32 source into a 32-bit Windows PE executable",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCompile,
	}
	root.Flags().StringVarP(&flagOutput, "output", "o", "output.exe", "output executable path")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "trace section writes and compile progress")
	root.Flags().BoolVarP(&flagDumpAsm, "dump-asm", "S", false, "print a textual disassembly of .text after a successful compile")

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the compiler version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

const version = "minilang32 0.1.0"

func runCompile(cmd *cobra.Command, files []string) error {
	diag.Verbose = flagVerbose

	c, err := lang.CompileToBuilder(files)
	if err != nil {
		return err
	}
	if err := c.Builder.Write(flagOutput, c.Addresses()); err != nil {
		return err
	}

	if flagDumpAsm {
		for _, line := range x86.Disassemble(c.Builder.Text().Bytes()) {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	return nil
}
