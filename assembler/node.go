package assembler

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/Urethramancer/uasm/machine"
)

// PseudoOp says what an InstructionCall emits. OpNone is a machine instruction.
type PseudoOp int

const (
	// OpNone is a real machine instruction.
	OpNone PseudoOp = iota
	// OpData emits each operand in Width bytes (.data, .long, .short).
	OpData
	// OpAscii emits one byte per character of its string operand.
	OpAscii
	// OpAlign pads with zero cells up to a multiple of its operand.
	OpAlign
	// OpPos pads with zero cells up to the address given by its operand.
	OpPos
)

var pseudoNames = [...]string{"instruction", "data", "ascii", "align", "pos"}

func (op PseudoOp) String() string {
	if op < 0 || int(op) >= len(pseudoNames) {
		return "pseudo(" + strconv.Itoa(int(op)) + ")"
	}
	return pseudoNames[op]
}

// InstructionCall is one assembled source line: its labels, the instruction
// (nil for pseudo-ops) and its operand tokens.
type InstructionCall struct {
	Labels   []Token
	Spec     *machine.InstructionSpec
	Pseudo   PseudoOp
	Keyword  Token
	Operands []Token
	// Width is the size in bytes of each OpData value.
	Width int
}

// clone copies the slices so a pass can replace operands without touching its input.
func (c InstructionCall) clone() InstructionCall {
	c.Labels = append([]Token(nil), c.Labels...)
	c.Operands = append([]Token(nil), c.Operands...)
	return c
}

// LengthInBits returns how many bits the call occupies when placed at the
// given cell address. The result is always a multiple of cellSize.
func (c *InstructionCall) LengthInBits(address uint64, cellSize int) (n int, err error) {
	switch c.Pseudo {
	case OpNone:
		if c.Spec == nil {
			return 0, newError(ErrParse, &c.Keyword, "instruction call without instruction")
		}
		n = c.Spec.LengthInBits()
	case OpData:
		n = c.Width * 8 * len(c.Operands)
	case OpAscii:
		for _, o := range c.Operands {
			n += 8 * len(o.Contents)
		}
	case OpAlign:
		v, err := c.cellOperand()
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, newError(ErrInvalidOperand, &c.Operands[0], "alignment must be positive")
		}
		if n, err = c.fill((v-address%v)%v, cellSize); err != nil {
			return 0, err
		}
	case OpPos:
		v, err := c.cellOperand()
		if err != nil {
			return 0, err
		}
		if v < address {
			return 0, newError(ErrInvalidOperand, &c.Operands[0], "position %d is behind the current address %d", v, address)
		}
		if n, err = c.fill(v-address, cellSize); err != nil {
			return 0, err
		}
	default:
		return 0, newError(ErrParse, &c.Keyword, "unhandled pseudo-op %s", c.Pseudo)
	}
	if n%cellSize != 0 {
		return 0, newError(ErrInvalidOperand, &c.Keyword, "length of %d bits is not a multiple of the %d-bit cell size", n, cellSize)
	}
	return n, nil
}

// maxFillCells bounds the zero fill of a single .align or .pos.
const maxFillCells = 1 << 24

func (c *InstructionCall) fill(cells uint64, cellSize int) (int, error) {
	if cells > maxFillCells {
		return 0, newError(ErrInvalidOperand, &c.Operands[0], "%s %s would fill %d cells, at most %d are allowed", c.Keyword.Contents, c.Operands[0].Contents, cells, maxFillCells)
	}
	return int(cells) * cellSize, nil
}

// advance returns the cell address after the call, given its address and its
// length in bits. Running past the end of the address space is an error.
func (c *InstructionCall) advance(address uint64, n, cellSize int) (uint64, error) {
	next, carry := bits.Add64(address, uint64(n/cellSize), 0)
	if carry != 0 {
		return 0, newError(ErrInvalidOperand, &c.Keyword, "address overflows after %d", address)
	}
	return next, nil
}

// cellOperand reads the single constant operand of .align and .pos.
func (c *InstructionCall) cellOperand() (uint64, error) {
	if len(c.Operands) != 1 {
		return 0, newError(ErrParse, &c.Keyword, "%s takes one operand", c.Keyword.Contents)
	}
	o := &c.Operands[0]
	if o.Kind != KindConstant {
		return 0, newError(ErrInvalidOperand, o, "%s needs a constant, got %s", c.Keyword.Contents, o.Contents)
	}
	v, err := parseInteger(strings.TrimSpace(o.Contents))
	if err != nil {
		return 0, newError(ErrNumberFormat, o, "malformed integer %s", o.Contents)
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, newError(ErrInvalidOperand, o, "%s out of range", o.Contents)
	}
	return v.Uint64(), nil
}

// AssembledInstruction is the packed result of one InstructionCall.
type AssembledInstruction struct {
	// Address is the first cell.
	Address uint64
	// Length is in bits.
	Length int
	// Cells holds Length/cellSize cells, most significant bits first.
	Cells    []uint64
	CellSize int
	Source   Token
	Operands []Token
}

// Bits renders the packed content as a string of 0 and 1.
func (a *AssembledInstruction) Bits() string {
	var b strings.Builder
	b.Grow(a.Length)
	for _, c := range a.Cells {
		s := strconv.FormatUint(c, 2)
		if len(s) < a.CellSize {
			b.WriteString(strings.Repeat("0", a.CellSize-len(s)))
		}
		b.WriteString(s)
	}
	return b.String()
}
