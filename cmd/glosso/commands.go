package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/pkg/bytecode"
	"github.com/chazu/glosso/server"
	"github.com/chazu/glosso/store"
	"github.com/chazu/glosso/vm"
)

// path resolves a command-line path against the -C directory.
func (c *cli) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// isSource reports whether path names glasm source rather than a module.
func isSource(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".glasm")
}

// loadModule reads a module file, or assembles a .glasm file.
func (c *cli) loadModule(path string) (*bytecode.Module, error) {
	if isSource(path) {
		m, err := c.loadManifest()
		if err != nil {
			return nil, err
		}
		return compiler.AssembleFile(path, m.AssemblerOptions()...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := bytecode.Unwrap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	mod, err := bytecode.Deserialize(plain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

// oneArg returns the single positional argument, or the project entry when
// none is given and useEntry is set.
func (c *cli) oneArg(fs *flag.FlagSet, args []string, useEntry bool) (string, error) {
	switch len(args) {
	case 1:
		return c.path(args[0]), nil
	case 0:
		if useEntry {
			m, err := c.loadManifest()
			if err != nil {
				return "", err
			}
			if entry := m.EntryPath(); entry != "" {
				return entry, nil
			}
		}
	}
	fs.Usage()
	return "", fmt.Errorf("%s: expected one file argument", fs.Name())
}

// ---------------------------------------------------------------------------
// assemble
// ---------------------------------------------------------------------------

func (c *cli) assemble(args []string) error {
	fs := c.flags("assemble", "[-o out.gsm] [--compress] <in.glasm>")
	output := fs.String("o", "", "Output module path (default: input with .gsm extension)")
	compress := fs.Bool("compress", false, "Write a zstd-compressed module")
	args, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	in, err := c.oneArg(fs, args, true)
	if err != nil {
		return err
	}

	m, err := c.loadManifest()
	if err != nil {
		return err
	}
	mod, err := compiler.AssembleFile(in, m.AssemblerOptions()...)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	out := m.OutputPath(in)
	if *output != "" {
		out = c.path(*output)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := compiler.WriteModule(mod, out, *compress || m.Assembler.Compress); err != nil {
		return fmt.Errorf("%s: %w", out, err)
	}
	fmt.Fprintf(c.stdout, "%s: %d instructions, %d global bytes, %s\n",
		out, len(mod.Code), len(mod.Globals), mod.Hash().Short())
	return nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (c *cli) run(args []string) error {
	fs := c.flags("run", "[--debug] [--trace] <module.gsm|file.glasm>")
	debug := fs.Bool("debug", false, "Step through the program with the interactive debugger")
	trace := fs.Bool("trace", false, "Trace every instruction to stderr")
	args, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	path, err := c.oneArg(fs, args, true)
	if err != nil {
		return err
	}

	m, err := c.loadManifest()
	if err != nil {
		return err
	}
	mod, err := c.loadModule(path)
	if err != nil {
		return err
	}

	opts := append(m.VMOptions(), vm.WithStdin(c.stdin), vm.WithStdout(c.stdout))
	if *trace {
		opts = append(opts, vm.WithTrace(c.stderr))
	}
	machine := vm.New(mod, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *debug {
		return vm.NewDebugger(machine, c.stdin, c.stdout).Run(ctx)
	}
	return machine.Run(ctx)
}

// ---------------------------------------------------------------------------
// disasm / hash
// ---------------------------------------------------------------------------

func (c *cli) disasm(args []string) error {
	fs := c.flags("disasm", "<module.gsm|file.glasm>")
	args, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	path, err := c.oneArg(fs, args, false)
	if err != nil {
		return err
	}
	mod, err := c.loadModule(path)
	if err != nil {
		return err
	}
	fmt.Fprint(c.stdout, mod.DisassembleWithName(filepath.Base(path)))
	return nil
}

func (c *cli) hash(args []string) error {
	fs := c.flags("hash", "<module.gsm|file.glasm>")
	args, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	path, err := c.oneArg(fs, args, false)
	if err != nil {
		return err
	}
	mod, err := c.loadModule(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, mod.Hash())
	return nil
}

// ---------------------------------------------------------------------------
// store
// ---------------------------------------------------------------------------

func (c *cli) store(args []string) error {
	fs := c.flags("store", "[-db path] put|get|list|delete [arguments]")
	dbPath := fs.String("db", "", "Module store path (default: [store] path in glosso.toml)")
	name := fs.String("name", "", "Name to store the module under (put)")
	output := fs.String("o", "", "Write the module to this path instead of listing it (get)")
	args, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fs.Usage()
		return errors.New("store: expected a subcommand")
	}

	path := *dbPath
	if path == "" {
		m, err := c.loadManifest()
		if err != nil {
			return err
		}
		path = m.StorePath()
	} else {
		path = c.path(path)
	}
	st, err := store.OpenBolt(path)
	if err != nil {
		return err
	}
	defer st.Close()

	sub, rest := args[0], args[1:]
	switch sub {
	case "put":
		if len(rest) != 1 {
			return errors.New("store put: expected one module or source file")
		}
		mod, err := c.loadModule(c.path(rest[0]))
		if err != nil {
			return err
		}
		entry, err := st.Put(*name, mod)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, entry.Hash)

	case "get":
		if len(rest) != 1 {
			return errors.New("store get: expected a hash or name")
		}
		mod, err := getModule(st, rest[0])
		if err != nil {
			return err
		}
		if *output == "" {
			fmt.Fprint(c.stdout, mod.DisassembleWithName(rest[0]))
			return nil
		}
		return compiler.WriteModule(mod, c.path(*output), false)

	case "list":
		entries, err := st.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HASH\tNAME\tINSTRUCTIONS\tSIZE\tSTORED")
		for _, e := range entries {
			label := e.Name
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				e.Hash.Short(), label, e.Instructions, e.Size, e.Stored.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()

	case "delete":
		if len(rest) != 1 {
			return errors.New("store delete: expected a hash or name")
		}
		h, err := st.Resolve(rest[0])
		if err != nil {
			return err
		}
		return st.Delete(h)

	default:
		return fmt.Errorf("store: unknown subcommand %q", sub)
	}
	return nil
}

func getModule(st store.Store, ref string) (*bytecode.Module, error) {
	h, err := st.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return st.Get(h)
}

// ---------------------------------------------------------------------------
// lsp / serve
// ---------------------------------------------------------------------------

func (c *cli) lsp(args []string) error {
	m, err := c.loadManifest()
	if err != nil {
		return err
	}
	return server.NewLSP(m.AssemblerOptions()...).Run()
}

func (c *cli) serve(args []string) error {
	m, err := c.loadManifest()
	if err != nil {
		return err
	}
	fs := c.flags("serve", "[--addr :4567] [--grpc-addr :4568] [--read-root dir]")
	addr := fs.String("addr", m.Server.Addr, "Connect (HTTP) listen address")
	grpcAddr := fs.String("grpc-addr", m.Server.GRPCAddr, "gRPC listen address (empty disables gRPC)")
	workers := fs.Int("workers", m.Server.Workers, "Number of run workers")
	readRoot := fs.String("read-root", "", "Directory programs and includes may read from")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	st, err := store.OpenBolt(m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []server.Option{
		server.WithWorkers(*workers),
		server.WithMaxHeap(m.VM.MaxHeap),
		server.WithAssemblerOptions(m.AssemblerOptions()...),
	}
	if *readRoot != "" {
		opts = append(opts, server.WithReadRoot(c.path(*readRoot)))
	}
	srv := server.New(st, opts...)
	defer srv.Stop()

	errc := make(chan error, 2)
	if *grpcAddr != "" {
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			return err
		}
		go func() { errc <- srv.ServeGRPC(lis) }()
	}
	go func() { errc <- srv.ListenAndServe(*addr) }()

	fmt.Fprintf(c.stdout, "glosso server listening on %s\n", *addr)
	fmt.Fprintf(c.stdout, "  Connect (CBOR, JSON): http://%s%s\n", displayAddr(*addr), server.AssembleProcedure)
	if *grpcAddr != "" {
		fmt.Fprintf(c.stdout, "  gRPC (CBOR):          grpc://%s\n", displayAddr(*grpcAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
