// Package memory is a cell-addressed code store that assembled programs are
// loaded into.
package memory

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/Urethramancer/uasm/assembler"
)

// RAM holds Size cells of CellSize bits each.
type RAM struct {
	CellSize int
	Cells    []uint64
}

// New creates a zeroed RAM.
func New(size, cellSize int) (*RAM, error) {
	if cellSize < 1 || cellSize > 64 {
		return nil, errors.Errorf("cell size %d outside 1..64", cellSize)
	}
	if size < 0 {
		return nil, errors.Errorf("negative size %d", size)
	}
	return &RAM{CellSize: cellSize, Cells: make([]uint64, size)}, nil
}

// Load writes the instructions to their addresses.
func (r *RAM) Load(code []assembler.AssembledInstruction) error {
	for i := range code {
		c := &code[i]
		if c.CellSize != r.CellSize {
			return errors.Errorf("instruction at %d has %d-bit cells, RAM has %d", c.Address, c.CellSize, r.CellSize)
		}
		end := c.Address + uint64(len(c.Cells))
		if end > uint64(len(r.Cells)) {
			return errors.Errorf("instruction at %d ends at %d, past the end of RAM (%d cells)", c.Address, end, len(r.Cells))
		}
		copy(r.Cells[c.Address:end], c.Cells)
	}
	return nil
}

// Bytes packs the cells from..to into a big-endian byte stream. A trailing
// partial byte is padded with zero bits.
func (r *RAM) Bytes(from, to int) []byte {
	if from < 0 {
		from = 0
	}
	if to > len(r.Cells) {
		to = len(r.Cells)
	}
	var (
		out  []byte
		acc  uint64
		have int
	)
	for _, c := range r.Cells[from:to] {
		for bit := r.CellSize - 1; bit >= 0; bit-- {
			acc = acc<<1 | (c>>uint(bit))&1
			have++
			if have == 8 {
				out = append(out, byte(acc))
				acc, have = 0, 0
			}
		}
	}
	if have > 0 {
		out = append(out, byte(acc<<uint(8-have)))
	}
	return out
}

// WriteHex writes one line per cell: address and value in hex.
func (r *RAM) WriteHex(w io.Writer, from, to int) error {
	if to > len(r.Cells) {
		to = len(r.Cells)
	}
	digits := (r.CellSize + 3) / 4
	for a := from; a < to; a++ {
		if _, err := fmt.Fprintf(w, "%08x: %0*x\n", a, digits, r.Cells[a]); err != nil {
			return errors.Wrap(err, "write hex")
		}
	}
	return nil
}

// Extent returns the first cell and the cell after the last cell the code occupies.
func Extent(code []assembler.AssembledInstruction) (from, to uint64) {
	if len(code) == 0 {
		return 0, 0
	}
	from = code[0].Address
	for i := range code {
		if code[i].Address < from {
			from = code[i].Address
		}
		if end := code[i].Address + uint64(len(code[i].Cells)); end > to {
			to = end
		}
	}
	return from, to
}
