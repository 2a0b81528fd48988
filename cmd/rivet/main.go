// Rivet CLI - checks, compiles and runs programs given as JSON trees
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/compiler"
	"github.com/chazu/rivet/manifest"
	"github.com/chazu/rivet/server"
	"github.com/chazu/rivet/store"
	"github.com/chazu/rivet/vm"
)

// imageExt marks files holding a compiled program image.
const imageExt = ".rvbc"

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

func main() {
	var verbose verbosity
	flag.Var(&verbose, "v", "Increase log verbosity (repeatable)")
	checkOnly := flag.Bool("check", false, "Type-check only, do not compile or run")
	disasm := flag.Bool("disasm", false, "Print the disassembled program before running")
	output := flag.String("o", "", "Write the compiled program image to `file` instead of running")
	heapWords := flag.Int("heap", 0, "Heap size in words (default from rivet.toml, else 10000)")
	stepLimit := flag.Int("steps", -1, "Maximum instructions to execute, 0 for unbounded (default from rivet.toml)")
	trace := flag.Bool("trace", false, "Log every executed instruction (needs -v -v)")
	noCache := flag.Bool("no-cache", false, "Do not use the compiled program cache")
	serveAddr := flag.String("serve", "", "Start the evaluation server on `addr` (- for the rivet.toml address)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rivet [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a program given as a JSON tree (or a compiled %s image).\n", imageExt)
		fmt.Fprintf(os.Stderr, "With no file, runs the entry program named in rivet.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rivet prog.json                # Run a program\n")
		fmt.Fprintf(os.Stderr, "  rivet -check prog.json         # Type-check only\n")
		fmt.Fprintf(os.Stderr, "  rivet -o prog%s prog.json   # Compile to an image\n", imageExt)
		fmt.Fprintf(os.Stderr, "  rivet -disasm prog%s        # Disassemble and run an image\n", imageExt)
		fmt.Fprintf(os.Stderr, "  rivet -serve :4567             # Start the evaluation server\n")
	}
	flag.Parse()

	m, err := loadManifest()
	if err != nil {
		fatal(err)
	}

	var logFile *string
	if m.Log.File != "" {
		logFile = &m.Log.File
	}
	commonlog.Configure(m.Log.Verbosity+int(verbose), logFile)

	if *heapWords > 0 {
		m.VM.HeapWords = *heapWords
	}
	if *stepLimit >= 0 {
		m.VM.StepLimit = *stepLimit
	}
	if *trace {
		m.VM.Trace = true
	}
	useCache := m.CacheEnabled() && !*noCache

	if *serveAddr != "" {
		addr := *serveAddr
		if addr == "-" {
			addr = m.Server.Addr
		}
		if err := serve(m, addr, useCache); err != nil {
			fatal(err)
		}
		return
	}

	path := flag.Arg(0)
	if path == "" {
		path = m.EntryPath()
	}
	if path == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *checkOnly {
		if err := check(path); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
		return
	}

	code, err := load(path, m, useCache)
	if err != nil {
		fatal(err)
	}

	if *output != "" {
		image, err := vm.MarshalProgram(code)
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(*output, image, 0644); err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote %d instructions to %s\n", len(code), *output)
		return
	}

	if *disasm {
		fmt.Print(vm.DisassembleWithName(code, filepath.Base(path)))
		fmt.Println()
	}

	result, err := run(code, m)
	if err != nil {
		fatal(err)
	}
	fmt.Println(vm.FormatHost(result))
}

// loadManifest finds rivet.toml above the working directory, falling back
// to defaults.
func loadManifest() (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(wd)
	}
	return m, nil
}

func readTree(path string) (*ast.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tree, err := ast.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

func check(path string) error {
	tree, err := readTree(path)
	if err != nil {
		return err
	}
	if errs := compiler.CheckTree(tree); len(errs) > 0 {
		return &compiler.CheckError{Errors: errs}
	}
	return nil
}

// load returns the instructions of path: decoded directly from an image,
// or compiled from a tree (through the cache when enabled).
func load(path string, m *manifest.Manifest, useCache bool) ([]vm.Instruction, error) {
	if strings.EqualFold(filepath.Ext(path), imageExt) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return vm.UnmarshalProgram(data)
	}

	tree, err := readTree(path)
	if err != nil {
		return nil, err
	}
	if !useCache {
		return compiler.Compile(tree)
	}

	st, err := store.Open(m.CachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: program cache unavailable: %v\n", err)
		return compiler.Compile(tree)
	}
	defer st.Close()
	code, _, err := st.Compile(tree)
	return code, err
}

func run(code []vm.Instruction, m *manifest.Manifest) (any, error) {
	machine, err := vm.New(code,
		vm.WithHeapWords(m.VM.HeapWords),
		vm.WithStepLimit(m.VM.StepLimit),
		vm.WithTrace(m.VM.Trace),
	)
	if err != nil {
		return nil, err
	}
	return machine.Run()
}

func serve(m *manifest.Manifest, addr string, useCache bool) error {
	opts := []server.ServerOption{
		server.WithHeapWords(m.VM.HeapWords),
		server.WithWorkers(m.Server.Workers),
	}
	if m.VM.StepLimit > 0 {
		opts = append(opts, server.WithStepLimit(m.VM.StepLimit))
	}
	if useCache {
		st, err := store.Open(m.CachePath())
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	return srv.ListenAndServe(addr)
}

// fatal prints err (every message of a failed check) and exits.
func fatal(err error) {
	var ce *compiler.CheckError
	if errors.As(err, &ce) {
		for _, msg := range ce.Errors {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
