// udonasm links and assembles Udon VM programs.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/manifest"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
)

var log = commonlog.GetLogger("udonasm")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return fmt.Sprint(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(string) error { *v++; return nil }

func main() {
	var verbose verbosity
	flag.Var(&verbose, "v", "Verbose output (repeat for more)")
	dir := flag.String("C", ".", "Project directory to search for "+manifest.FileName)
	output := flag.String("o", "", "Assembly text output path")
	imagePath := flag.String("image", "", "Also write a binary image to this path")
	updateOrder := flag.Int("update-order", -1, "Update order to declare (default from manifest, else the host's own)")
	noOptimize := flag.Bool("no-optimize", false, "Skip the call-threading pass")
	noCache := flag.Bool("no-cache", false, "Do not read or write the build cache")
	disasm := flag.Bool("disasm", false, "Print an annotated listing of the output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: udonasm [options] [host.uasm [library.uasm|library.uimg...]]\n\n")
		fmt.Fprintf(os.Stderr, "Links libraries into a host program and writes Udon assembly.\n")
		fmt.Fprintf(os.Stderr, "Without paths, the build is described by %s.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  udonasm                           # Build the project in .\n")
		fmt.Fprintf(os.Stderr, "  udonasm -C door -image door.uimg  # Build ./door, also write an image\n")
		fmt.Fprintf(os.Stderr, "  udonasm main.uasm util.uasm -o out.uasm\n")
		fmt.Fprintf(os.Stderr, "  udonasm -disasm -no-cache build.uimg\n")
	}
	flag.Parse()

	var m *manifest.Manifest
	var err error
	if flag.NArg() == 0 {
		m, err = manifest.FindAndLoad(*dir)
		if err != nil {
			fatalf("loading manifest: %v", err)
		}
		if m == nil {
			fatalf("no %s found and no input files given", manifest.FileName)
		}
	}

	configureLogging(int(verbose), m)

	var opts *buildOptions
	if m != nil {
		deps, err := manifest.NewResolver(m).Resolve()
		if err != nil {
			fatalf("resolving dependencies: %v", err)
		}
		if opts, err = optionsFromManifest(m, deps); err != nil {
			fatalf("%v", err)
		}
	} else if opts, err = optionsFromArgs(flag.Args()); err != nil {
		fatalf("%v", err)
	}

	if *output != "" {
		opts.OutputPath = *output
	}
	if *imagePath != "" {
		opts.ImagePath = *imagePath
	}
	if *updateOrder >= 0 {
		opts.UpdateOrder = *updateOrder
	}
	if *noOptimize {
		opts.Optimize = false
	}
	if *noCache {
		opts.CachePath = ""
	}

	res, err := build(opts)
	if err != nil {
		fatalf("%v", err)
	}
	printDiagnostics(os.Stderr, res.Diagnostics)

	if err := writeOutputs(opts, res); err != nil {
		fatalf("writing output: %v", err)
	}

	if verbose > 0 || res.Cached {
		summarize(opts, res)
	}

	if *disasm {
		d, err := assembly.ReadText(strings.NewReader(res.Text))
		if err != nil {
			fatalf("disassembling output: %v", err)
		}
		if err := d.Listing(os.Stdout); err != nil {
			fatalf("%v", err)
		}
	}
}

// configureLogging maps -v onto commonlog verbosity. The manifest's [log]
// section is used when no -v was given.
func configureLogging(v int, m *manifest.Manifest) {
	var path *string
	if m != nil {
		if v == 0 {
			v = m.Log.Verbosity
		}
		if m.Log.File != "" {
			p := m.Log.File
			path = &p
		}
	}
	commonlog.Configure(v, path)
}

func summarize(opts *buildOptions, res *buildResult) {
	state := "assembled"
	if res.Cached {
		state = "cached"
	}
	fmt.Fprintf(os.Stderr, "%s %s: %s (%d libraries, %d calls threaded)\n",
		state, opts.OutputPath, humanize.Bytes(uint64(len(res.Text))), len(opts.Libraries), res.Threaded)
	if res.Image != nil {
		fmt.Fprintf(os.Stderr, "image %s: %s\n", opts.ImagePath, humanize.Bytes(uint64(len(res.Image))))
	}
	if res.BuildID != "" {
		log.Infof("build %s", res.BuildID)
	}
}

// printDiagnostics writes one line per diagnostic, in yellow on a terminal.
func printDiagnostics(w io.Writer, diags []assembly.Diagnostic) {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, d := range diags {
		if color {
			fmt.Fprintf(w, "\x1b[33mwarning:\x1b[0m %s\n", d.Error())
		} else {
			fmt.Fprintf(w, "warning: %s\n", d.Error())
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
