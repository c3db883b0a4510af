// Package assembler turns assembly source for a user-defined instruction
// set into packed machine code. The instruction set comes from a
// machine.Machine; assembly runs in four stages: scanning, parsing,
// normalizing (EQUs, labels, remaining names) and code generation.
package assembler

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Urethramancer/uasm/machine"
)

// Program is everything a successful assembly produced.
type Program struct {
	Instructions []AssembledInstruction
	// Calls are the fully resolved instruction calls the code came from.
	Calls   []InstructionCall
	Labels  map[Symbol]Token
	EQUs    map[Symbol]Token
	Globals []Symbol
	Start   uint64
}

// Assembler holds the machine description and the last successful result.
// Each call to Assemble works on a snapshot of the description.
type Assembler struct {
	mu     sync.Mutex
	m      *machine.Machine
	log    *slog.Logger
	fsys   fs.FS
	result *Program
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sends stage debug output to l.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.log = l }
}

// WithFS reads source and included files from fsys instead of the operating system.
func WithFS(fsys fs.FS) Option {
	return func(a *Assembler) { a.fsys = fsys }
}

// New creates an Assembler for machine m.
func New(m *machine.Machine, opts ...Option) (*Assembler, error) {
	a := &Assembler{log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(a)
	}
	if err := a.UpdateInstructionSpecs(m); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateInstructionSpecs replaces the machine description used by later
// assemblies. The last result is kept as it is.
func (a *Assembler) UpdateInstructionSpecs(m *machine.Machine) error {
	if m == nil {
		return errors.New("nil machine")
	}
	s := m.Snapshot()
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "invalid machine")
	}
	a.mu.Lock()
	a.m = s
	a.mu.Unlock()
	return nil
}

// Result returns the instructions of the last successful assembly.
func (a *Assembler) Result() []AssembledInstruction {
	if p := a.Program(); p != nil {
		return p.Instructions
	}
	return nil
}

// Program returns the last successful assembly, or nil.
func (a *Assembler) Program() *Program {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

func (a *Assembler) readFile(name string) ([]byte, error) {
	if a.fsys != nil {
		return fs.ReadFile(a.fsys, strings.TrimPrefix(filepath.ToSlash(name), "/"))
	}
	return os.ReadFile(filepath.FromSlash(name))
}

// Assemble reads and assembles a file, placing the first instruction at the
// cell address start.
func (a *Assembler) Assemble(name string, start uint64) ([]AssembledInstruction, error) {
	src, err := a.readFile(name)
	if err != nil {
		return nil, wrapError(ErrInclude, nil, err, "read source")
	}
	return a.AssembleSource(name, src, start)
}

// AssembleSource assembles src. The name is used in positions and to
// resolve relative includes.
func (a *Assembler) AssembleSource(name string, src []byte, start uint64) ([]AssembledInstruction, error) {
	a.mu.Lock()
	m := a.m
	a.mu.Unlock()

	p, err := a.run(m, filepath.ToSlash(name), src, start)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.result = p
	a.mu.Unlock()
	return p.Instructions, nil
}

func (a *Assembler) run(m *machine.Machine, name string, src []byte, start uint64) (*Program, error) {
	log := a.log.With("file", name)

	parser := NewParser(m, a.readFile, log)
	calls, local, err := parser.Parse(NewScanner(name, src, m.Punctuation))
	if err != nil {
		return nil, err
	}
	log.Debug("parsed", "calls", len(calls), "equs", len(local))

	calls, equs, err := ResolveEQUs(calls, local, m.EQUs)
	if err != nil {
		return nil, err
	}
	labels, err := AssignLabels(calls, start, m.CellSize)
	if err != nil {
		return nil, err
	}
	calls, err = ReplaceVariables(calls, labels, start, m.CellSize)
	if err != nil {
		return nil, err
	}
	log.Debug("normalized", "labels", len(labels))

	code, err := GenerateCode(calls, start, m.CellSize)
	if err != nil {
		return nil, err
	}
	log.Debug("generated", "instructions", len(code))

	return &Program{
		Instructions: code,
		Calls:        calls,
		Labels:       labels,
		EQUs:         equs,
		Globals:      parser.Globals(),
		Start:        start,
	}, nil
}
