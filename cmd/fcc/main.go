// fcc compiles C-like source files to AMD64 GNU-assembler text and,
// unless told to stop earlier, hands the result to the system assembler
// and linker.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/teris-io/cli"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/asmwriter"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/emit"
	"github.com/gmofishsauce/fcc/internal/ir"
	"github.com/gmofishsauce/fcc/internal/optimize"
	"github.com/gmofishsauce/fcc/internal/parser"
	"github.com/gmofishsauce/fcc/internal/sem"
	"github.com/gmofishsauce/fcc/internal/symtab"
)

const version = "fcc 0.1.0"

// Compiled-in tool paths; there is no environment lookup.
const (
	assemblerPath = "/usr/bin/as"
	linkerPath    = "/usr/bin/cc"
)

var description = strings.ReplaceAll(`
fcc compiles a C-like systems language to Intel-syntax AMD64 assembly.
With no mode option the inputs are compiled, assembled and linked into
an executable; -S stops after code generation and -c after assembly.
`, "\n", " ")

var fcc = cli.New(description).
	WithArg(cli.NewArg("inputs", "The source files to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("compile", "Stop after assembling, do not link").
		WithChar('c').WithType(cli.TypeBool)).
	WithOption(cli.NewOption("assembly", "Stop after code generation, do not assemble").
		WithChar('S').WithType(cli.TypeBool)).
	WithOption(cli.NewOption("output", "Output file path").
		WithChar('o').WithType(cli.TypeString)).
	WithOption(cli.NewOption("version", "Print the version and exit").
		WithType(cli.TypeBool)).
	WithAction(handler)

func handler(args []string, options map[string]string) int {
	if _, wantVersion := options["version"]; wantVersion {
		fmt.Println(version)
		return 0
	}
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "fcc: no input files (use --help)\n")
		return 2
	}

	_, stopAfterAsm := options["compile"]
	_, stopAfterGen := options["assembly"]
	output := options["output"]

	if output != "" && stopAfterAsm && len(args) > 1 {
		fmt.Fprintf(os.Stderr, "fcc: warning: -o ignored with -c and multiple inputs\n")
		output = ""
	}

	var objects []string
	for _, input := range args {
		asmPath := derived(input, ".s", pickOutput(output, stopAfterGen, len(args)))
		if code := compileOne(input, asmPath); code != 0 {
			return code
		}
		if stopAfterGen {
			continue
		}
		objPath := derived(input, ".o", pickOutput(output, stopAfterAsm, len(args)))
		if err := run(assemblerPath, "-o", objPath, asmPath); err != nil {
			fmt.Fprintf(os.Stderr, "fcc: assembler failed on %s: %s\n", input, err)
			return 1
		}
		objects = append(objects, objPath)
	}

	if stopAfterGen || stopAfterAsm {
		return 0
	}

	exe := output
	if exe == "" {
		exe = "a.out"
	}
	linkArgs := append([]string{"-o", exe}, objects...)
	if err := run(linkerPath, linkArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "fcc: linker failed: %s\n", err)
		return 1
	}
	return 0
}

// pickOutput returns the -o path when this stage is the final one for
// a single input, empty otherwise.
func pickOutput(output string, finalStage bool, ninputs int) string {
	if finalStage && ninputs == 1 {
		return output
	}
	return ""
}

// derived maps input.ext to input<suffix> next to the input, unless an
// explicit path overrides it.
func derived(input, suffix, explicit string) string {
	if explicit != "" {
		return explicit
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + suffix
}

// compileOne runs the pipeline on one translation unit: parse (with
// any using-included modules), analyze, and — only when no errors and
// no internal errors accumulated — emit, optimize, and write assembly.
func compileOne(input, asmPath string) int {
	a := arch.New(arch.Linux)
	global := symtab.Init()
	parser.RegisterBuiltins(global, a)
	bag := &diag.Bag{}

	p := parser.New(a, global, bag)
	mod := p.ParseFile(input)
	if mod == nil {
		printDiags(bag)
		return 2
	}

	an := sem.New(a, global, bag)
	an.Analyze(p.Modules)

	if !bag.Clean() {
		printDiags(bag)
		return 1
	}

	ctx := ir.NewContext()
	em := emit.New(a, ctx, bag)
	em.EmitModules(p.Modules)
	if !bag.Clean() {
		printDiags(bag)
		return 1
	}

	for _, fn := range ctx.Fns {
		optimize.Run(fn)
	}

	out, err := os.Create(asmPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fcc: cannot create %s: %s\n", asmPath, err)
		return 1
	}
	defer out.Close()

	w := asmwriter.New(out)
	w.Header()
	for _, fn := range ctx.Fns {
		w.Function(fn)
	}
	w.Statics(ctx.Statics)
	w.Data(ctx.Globals)
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "fcc: write failed: %s\n", err)
		return 1
	}

	printDiags(bag) // warnings, if any
	return 0
}

func printDiags(bag *diag.Bag) {
	items := bag.Items()
	if len(items) == 0 {
		return
	}
	diag.NewPrinter(os.Stderr).Print(items)
}

func run(tool string, args ...string) error {
	cmd := exec.Command(tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func main() { os.Exit(fcc.Run(os.Args, os.Stdout)) }
