package server

// Procedure names shared by the Connect and gRPC transports.
const (
	AssemblerServiceName = "glosso.v1.AssemblerService"
	RunnerServiceName    = "glosso.v1.RunnerService"

	AssembleProcedure    = "/" + AssemblerServiceName + "/Assemble"
	DisassembleProcedure = "/" + AssemblerServiceName + "/Disassemble"
	RunProcedure         = "/" + RunnerServiceName + "/Run"
	GetRunProcedure      = "/" + RunnerServiceName + "/GetRun"
)

// Diagnostic is one assembler error.
type Diagnostic struct {
	Line    int    `cbor:"1,keyasint" json:"line"`
	Kind    string `cbor:"2,keyasint" json:"kind"`
	Message string `cbor:"3,keyasint" json:"message"`
}

// AssembleRequest carries glasm source. Includes resolve under the
// server's read root.
type AssembleRequest struct {
	Source   string `cbor:"1,keyasint" json:"source"`
	Name     string `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	Store    bool   `cbor:"3,keyasint,omitempty" json:"store,omitempty"`
	Compress bool   `cbor:"4,keyasint,omitempty" json:"compress,omitempty"`
}

// AssembleResponse reports the assembled module or the diagnostics that
// prevented it.
type AssembleResponse struct {
	Success      bool         `cbor:"1,keyasint" json:"success"`
	Module       []byte       `cbor:"2,keyasint,omitempty" json:"module,omitempty"`
	Hash         string       `cbor:"3,keyasint,omitempty" json:"hash,omitempty"`
	Instructions int          `cbor:"4,keyasint,omitempty" json:"instructions,omitempty"`
	Diagnostics  []Diagnostic `cbor:"5,keyasint,omitempty" json:"diagnostics,omitempty"`
}

// DisassembleRequest names a module by image or by store reference.
type DisassembleRequest struct {
	Module []byte `cbor:"1,keyasint,omitempty" json:"module,omitempty"`
	Ref    string `cbor:"2,keyasint,omitempty" json:"ref,omitempty"`
}

// DisassembleResponse is a module listing.
type DisassembleResponse struct {
	Hash    string `cbor:"1,keyasint" json:"hash"`
	Listing string `cbor:"2,keyasint" json:"listing"`
}

// RunRequest starts a module on the worker pool. Wait blocks the call
// until the run finishes.
type RunRequest struct {
	Module        []byte `cbor:"1,keyasint,omitempty" json:"module,omitempty"`
	Ref           string `cbor:"2,keyasint,omitempty" json:"ref,omitempty"`
	Stdin         string `cbor:"3,keyasint,omitempty" json:"stdin,omitempty"`
	TimeoutMillis int64  `cbor:"4,keyasint,omitempty" json:"timeoutMillis,omitempty"`
	Wait          bool   `cbor:"5,keyasint,omitempty" json:"wait,omitempty"`
}

// GetRunRequest looks up a run by ID.
type GetRunRequest struct {
	ID string `cbor:"1,keyasint" json:"id"`
}

// RunStatus is the observable state of a run.
type RunStatus struct {
	ID     string   `cbor:"1,keyasint" json:"id"`
	Hash   string   `cbor:"2,keyasint" json:"hash"`
	State  RunState `cbor:"3,keyasint" json:"state"`
	Stdout string   `cbor:"4,keyasint,omitempty" json:"stdout,omitempty"`
	Error  string   `cbor:"5,keyasint,omitempty" json:"error,omitempty"`
	Steps  uint64   `cbor:"6,keyasint,omitempty" json:"steps,omitempty"`
}
