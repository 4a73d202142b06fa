// Package manifest handles glosso.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/glosso/compiler"
	"github.com/chazu/glosso/vm"
)

// FileName is the name of the project configuration file.
const FileName = "glosso.toml"

// ModuleExt is the extension of assembled module files.
const ModuleExt = ".gsm"

// Manifest represents a glosso.toml project configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Assembler AssemblerConfig `toml:"assembler"`
	VM        VMConfig        `toml:"vm"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`

	// Dir is the directory containing the glosso.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// AssemblerConfig configures assembly. Zero capacities mean unlimited.
type AssemblerConfig struct {
	LabelCapacity  int    `toml:"label-capacity"`
	JumpCapacity   int    `toml:"jump-capacity"`
	GlobalCapacity int    `toml:"global-capacity"`
	Compress       bool   `toml:"compress"`
	OutputDir      string `toml:"output-dir"`
}

// VMConfig configures execution.
type VMConfig struct {
	MaxHeap uint64 `toml:"max-heap"`
	Trace   bool   `toml:"trace"`
}

// StoreConfig configures the module store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures glosso serve.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	GRPCAddr string `toml:"grpc-addr"`
	Workers  int    `toml:"workers"`
}

// Default returns the configuration used when no glosso.toml exists.
func Default(dir string) *Manifest {
	return &Manifest{
		Assembler: AssemblerConfig{
			LabelCapacity:  compiler.DefaultLabelCapacity,
			JumpCapacity:   compiler.DefaultJumpCapacity,
			GlobalCapacity: compiler.DefaultGlobalCapacity,
		},
		VM: VMConfig{
			MaxHeap: vm.DefaultMaxHeap,
		},
		Store: StoreConfig{
			Path: filepath.Join(".glosso", "modules.db"),
		},
		Server: ServerConfig{
			Addr:     ":4567",
			GRPCAddr: ":4568",
			Workers:  4,
		},
		Dir: dir,
	}
}

// Load parses a glosso.toml file from the given directory. Keys the file
// omits keep their defaults; unknown keys are an error.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m := Default(abs)
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if m.Server.Workers < 1 {
		return nil, fmt.Errorf("%s: server.workers must be at least 1, got %d", path, m.Server.Workers)
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find a glosso.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// FindOrDefault is FindAndLoad falling back to Default(startDir).
func FindOrDefault(startDir string) (*Manifest, error) {
	m, err := FindAndLoad(startDir)
	if err != nil || m != nil {
		return m, err
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	return Default(dir), nil
}

// resolve makes a configured path absolute relative to Dir.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the project entry file, or "" if
// none is configured.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// StorePath returns the absolute path of the bbolt module store.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// OutputPath returns where the module assembled from src is written: src
// with its extension replaced by .gsm, placed in output-dir when one is
// configured.
func (m *Manifest) OutputPath(src string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ModuleExt
	if m.Assembler.OutputDir == "" {
		return filepath.Join(filepath.Dir(src), base)
	}
	return filepath.Join(m.resolve(m.Assembler.OutputDir), base)
}

// AssemblerOptions returns the assembler limits from [assembler].
func (m *Manifest) AssemblerOptions() []compiler.Option {
	return []compiler.Option{
		compiler.WithLabelCapacity(m.Assembler.LabelCapacity),
		compiler.WithJumpCapacity(m.Assembler.JumpCapacity),
		compiler.WithGlobalCapacity(m.Assembler.GlobalCapacity),
	}
}

// VMOptions returns the VM settings from [vm]. Tracing writes to stderr.
func (m *Manifest) VMOptions() []vm.Option {
	opts := []vm.Option{vm.WithMaxHeap(m.VM.MaxHeap)}
	if m.VM.Trace {
		opts = append(opts, vm.WithTrace(os.Stderr))
	}
	return opts
}
