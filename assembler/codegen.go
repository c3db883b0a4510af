package assembler

import (
	"math/big"
	"strings"
)

// bitWriter packs values most significant field first.
type bitWriter struct {
	acc big.Int
	n   int
}

// write appends the low width bits of v, in two's complement for negative values.
func (w *bitWriter) write(v *big.Int, width int) {
	if width <= 0 {
		return
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(width)))
	}
	w.acc.Lsh(&w.acc, uint(width))
	w.acc.Or(&w.acc, u)
	w.n += width
}

func (w *bitWriter) zeros(width int) {
	w.acc.Lsh(&w.acc, uint(width))
	w.n += width
}

// cells splits the packed bits into cells of cellSize bits.
func (w *bitWriter) cells(cellSize int) []uint64 {
	count := w.n / cellSize
	out := make([]uint64, count)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(cellSize)), big.NewInt(1))
	t := new(big.Int)
	for i := range out {
		t.Rsh(&w.acc, uint(w.n-(i+1)*cellSize))
		t.And(t, mask)
		out[i] = t.Uint64()
	}
	return out
}

func within(v, lo, hi *big.Int) bool {
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}

func operandValue(o *Token) (*big.Int, error) {
	v, err := parseInteger(strings.TrimSpace(o.Contents))
	if err != nil {
		return nil, newError(ErrNumberFormat, o, "malformed integer %s", strings.TrimSpace(o.Contents))
	}
	return v, nil
}

// GenerateCode packs fully resolved calls into cells. Every operand must be a
// constant by now.
func GenerateCode(calls []InstructionCall, start uint64, cellSize int) ([]AssembledInstruction, error) {
	out := make([]AssembledInstruction, 0, len(calls))
	addr := start
	for i := range calls {
		c := &calls[i]
		n, err := c.LengthInBits(addr, cellSize)
		if err != nil {
			return nil, err
		}

		var w bitWriter
		switch c.Pseudo {
		case OpNone:
			err = packInstruction(&w, c)
		case OpData:
			err = packData(&w, c)
		case OpAscii:
			for _, o := range c.Operands {
				for _, b := range []byte(o.Contents) {
					w.write(big.NewInt(int64(b)), 8)
				}
			}
		case OpAlign, OpPos:
			w.zeros(n)
		default:
			err = newError(ErrParse, &c.Keyword, "unhandled pseudo-op %s", c.Pseudo)
		}
		if err != nil {
			return nil, err
		}
		if w.n != n {
			return nil, newError(ErrInvalidOperand, &c.Keyword, "packed %d bits, expected %d", w.n, n)
		}

		out = append(out, AssembledInstruction{
			Address:  addr,
			Length:   n,
			Cells:    w.cells(cellSize),
			CellSize: cellSize,
			Source:   c.Keyword,
			Operands: append([]Token(nil), c.Operands...),
		})
		if addr, err = c.advance(addr, n, cellSize); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func packInstruction(w *bitWriter, c *InstructionCall) error {
	spec := c.Spec
	w.write(new(big.Int).SetUint64(spec.Opcode), spec.Fields[0].NumBits)

	next := 0
	for i := 1; i < len(spec.Fields); i++ {
		f := &spec.Fields[i]
		if !f.TakesOperand() || next >= len(c.Operands) {
			// Ignored fields and omitted optional operands pack as zero.
			w.zeros(f.NumBits)
			continue
		}
		o := &c.Operands[next]
		next++
		if o.Kind != KindConstant {
			return newError(ErrInvalidOperand, o, "unresolved operand %s", o.Contents)
		}
		v, err := operandValue(o)
		if err != nil {
			return err
		}
		if !f.Holds(v) {
			lo, hi := f.Bounds()
			sign := "unsigned"
			if f.Signed {
				sign = "signed"
			}
			return newError(ErrInvalidOperand, o, "value %s does not fit in field %s of %s (%d bits %s, %s..%s)",
				v, fieldName(spec, i), spec.Name, f.NumBits, sign, lo, hi)
		}
		w.write(v, f.NumBits)
	}
	return nil
}

// packData accepts anything that fits the width as either a signed or an unsigned number.
func packData(w *bitWriter, c *InstructionCall) error {
	bits := c.Width * 8
	lo := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(bits-1)))
	hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits)), big.NewInt(1))
	for i := range c.Operands {
		o := &c.Operands[i]
		if o.Kind != KindConstant {
			return newError(ErrInvalidOperand, o, "unresolved operand %s", o.Contents)
		}
		v, err := operandValue(o)
		if err != nil {
			return err
		}
		if !within(v, lo, hi) {
			return newError(ErrInvalidOperand, o, "value %s does not fit in %d bytes", v, c.Width)
		}
		w.write(v, bits)
	}
	return nil
}
