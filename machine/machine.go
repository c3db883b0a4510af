// Package machine describes a user-defined instruction set: its instructions,
// their operand fields, the code store's cell size, global EQUs and the
// punctuation roles the assembler's scanner obeys.
package machine

import (
	"strings"

	"github.com/pkg/errors"
)

// InstructionSpec is one machine instruction. Fields[0] is the opcode field.
type InstructionSpec struct {
	Name   string  `json:"name"`
	Opcode uint64  `json:"opcode"`
	Fields []Field `json:"fields"`
}

// LengthInBits is the sum of all field widths.
func (s *InstructionSpec) LengthInBits() int {
	n := 0
	for i := range s.Fields {
		n += s.Fields[i].NumBits
	}
	return n
}

// OperandFields returns the indices of the fields an operand is written for.
func (s *InstructionSpec) OperandFields() []int {
	var idx []int
	for i := 1; i < len(s.Fields); i++ {
		if s.Fields[i].TakesOperand() {
			idx = append(idx, i)
		}
	}
	return idx
}

// MinOperands is the number of operands that may not be left out.
func (s *InstructionSpec) MinOperands() int {
	idx := s.OperandFields()
	n := len(idx)
	for n > 0 && s.Fields[idx[n-1]].Type == Optional {
		n--
	}
	return n
}

func (s InstructionSpec) clone() InstructionSpec {
	fs := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		fs[i] = f.clone()
	}
	s.Fields = fs
	return s
}

// EQU is a named integer constant.
type EQU struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Machine is the description the assembler reads.
// It is treated as immutable while an assembly runs.
type Machine struct {
	Name         string            `json:"name"`
	CellSize     int               `json:"cellSize"`
	Instructions []InstructionSpec `json:"instructions"`
	EQUs         []EQU             `json:"equs,omitempty"`
	Punctuation  Punctuation       `json:"punctuation,omitempty"`
}

// Instruction looks up an instruction by mnemonic. Mnemonics match exactly.
func (m *Machine) Instruction(name string) (*InstructionSpec, bool) {
	for i := range m.Instructions {
		if m.Instructions[i].Name == name {
			return &m.Instructions[i], true
		}
	}
	return nil, false
}

// EQU looks up a global EQU.
func (m *Machine) EQU(name string) (EQU, bool) {
	for _, e := range m.EQUs {
		if e.Name == name {
			return e, true
		}
	}
	return EQU{}, false
}

// Snapshot returns a deep copy. The assembler works on snapshots so that a
// caller editing the description does not race an assembly in flight.
func (m *Machine) Snapshot() *Machine {
	c := *m
	c.Instructions = make([]InstructionSpec, len(m.Instructions))
	for i, s := range m.Instructions {
		c.Instructions[i] = s.clone()
	}
	c.EQUs = append([]EQU(nil), m.EQUs...)
	c.Punctuation = m.Punctuation.clone()
	if c.Punctuation == nil {
		c.Punctuation = DefaultPunctuation()
	}
	return &c
}

// Validate checks the description for consistency.
func (m *Machine) Validate() error {
	if m.CellSize < 1 || m.CellSize > 64 {
		return errors.Errorf("cell size %d outside 1..64", m.CellSize)
	}
	if m.Punctuation != nil {
		if err := m.Punctuation.Validate(); err != nil {
			return err
		}
	}

	names := make(map[string]bool)
	for i := range m.Instructions {
		s := &m.Instructions[i]
		if err := m.validateInstruction(s); err != nil {
			return errors.Wrapf(err, "instruction %s", s.Name)
		}
		if names[s.Name] {
			return errors.Errorf("duplicate instruction %s", s.Name)
		}
		names[s.Name] = true
	}

	equs := make(map[string]bool)
	for _, e := range m.EQUs {
		if e.Name == "" || strings.ContainsAny(e.Name, " \t") {
			return errors.Errorf("invalid EQU name %q", e.Name)
		}
		if equs[e.Name] {
			return errors.Errorf("duplicate EQU %s", e.Name)
		}
		equs[e.Name] = true
	}
	return nil
}

func (m *Machine) validateInstruction(s *InstructionSpec) error {
	if s.Name == "" || strings.ContainsAny(s.Name, " \t") {
		return errors.Errorf("invalid name %q", s.Name)
	}
	if len(s.Fields) == 0 {
		return errors.New("no opcode field")
	}
	op := &s.Fields[0]
	if op.NumBits <= 0 || op.NumBits > 64 {
		return errors.Errorf("opcode field width %d outside 1..64", op.NumBits)
	}
	if op.Relativity != Absolute || op.Type != Required || op.Restricted() {
		return errors.New("opcode field must be absolute, required and unrestricted")
	}
	if op.NumBits < 64 && s.Opcode >= 1<<op.NumBits {
		return errors.Errorf("opcode %#x does not fit in %d bits", s.Opcode, op.NumBits)
	}

	for i := 1; i < len(s.Fields); i++ {
		f := &s.Fields[i]
		if f.NumBits < 0 || f.NumBits > 64 {
			return errors.Errorf("field %d width %d outside 0..64", i, f.NumBits)
		}
		seen := make(map[string]bool)
		for _, v := range f.Values {
			if seen[v.Name] {
				return errors.Errorf("field %d: duplicate value name %s", i, v.Name)
			}
			seen[v.Name] = true
			if !f.Fits(v.Value) {
				return errors.Errorf("field %d: value %s=%d does not fit in %d bits", i, v.Name, v.Value, f.NumBits)
			}
		}
	}

	if n := s.LengthInBits(); n%m.CellSize != 0 {
		return errors.Errorf("length %d bits is not a multiple of the %d-bit cell size", n, m.CellSize)
	}
	return nil
}
