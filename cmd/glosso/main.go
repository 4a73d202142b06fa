// glosso CLI - assemble, run, inspect and serve glosso bytecode modules
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/glosso/manifest"

	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

// cli carries the process streams and project settings shared by every
// subcommand.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	dir    string

	manifest *manifest.Manifest
}

type command struct {
	name    string
	summary string
	run     func(c *cli, args []string) error
}

var commands = []command{
	{"assemble", "assemble a .glasm file into a module", (*cli).assemble},
	{"run", "run a module (or assemble and run a .glasm file)", (*cli).run},
	{"disasm", "print a module listing", (*cli).disasm},
	{"hash", "print the content hash of a module", (*cli).hash},
	{"store", "put, get, list and delete modules in the local store", (*cli).store},
	{"lsp", "start the glasm language server on stdio", (*cli).lsp},
	{"serve", "serve the assembler and runner over Connect and gRPC", (*cli).serve},
	{"version", "print the version", (*cli).version},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("glosso", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("v", false, "Print the version and exit")
	fs.BoolVar(showVersion, "version", false, "Print the version and exit")
	verbose := fs.Int("verbose", 0, "Log verbosity (0 = errors only)")
	dir := fs.String("C", ".", "Run as if started in `dir`")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: glosso [options] <command> [arguments]\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		for _, cmd := range commands {
			fmt.Fprintf(stderr, "  %-10s %s\n", cmd.name, cmd.summary)
		}
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  glosso assemble hello.glasm          # writes hello.gsm\n")
		fmt.Fprintf(stderr, "  glosso run hello.gsm\n")
		fmt.Fprintf(stderr, "  glosso run --debug hello.gsm         # step through with the debugger\n")
		fmt.Fprintf(stderr, "  glosso store put -name hello hello.gsm\n")
		fmt.Fprintf(stderr, "  glosso serve --addr :4567 --grpc-addr :4568\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	commonlog.Configure(*verbose, nil)

	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr, dir: *dir}
	if *showVersion {
		c.version(nil)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	for _, cmd := range commands {
		if cmd.name != rest[0] {
			continue
		}
		if err := cmd.run(c, rest[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return 0
			}
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
	fs.Usage()
	return 2
}

// loadManifest finds glosso.toml above the working directory, falling back
// to defaults.
func (c *cli) loadManifest() (*manifest.Manifest, error) {
	if c.manifest != nil {
		return c.manifest, nil
	}
	m, err := manifest.FindOrDefault(c.dir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	c.manifest = m
	return m, nil
}

// flags creates a subcommand flag set writing usage to stderr.
func (c *cli) flags(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: glosso %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses fs allowing flags after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (c *cli) version(args []string) error {
	fmt.Fprintf(c.stdout, "glosso %s\n", version)
	return nil
}
