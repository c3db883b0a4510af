// Package listing formats assembled programs as text.
package listing

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/Urethramancer/uasm/assembler"
)

// Sources maps file names, as recorded in token positions, to their text.
type Sources map[string][]byte

func (s Sources) line(pos assembler.Position) string {
	src, ok := s[pos.File]
	if !ok || pos.Line < 1 {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n")
	if pos.Line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[pos.Line-1])
}

// Write prints one line per instruction: address, cells in hex, the bits and
// the source line the instruction came from when its file is in src.
func Write(w io.Writer, code []assembler.AssembledInstruction, src Sources) error {
	var b strings.Builder
	for i := range code {
		c := &code[i]
		b.Reset()
		fmt.Fprintf(&b, "%08x ", c.Address)
		digits := (c.CellSize + 3) / 4
		for j, cell := range c.Cells {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%0*x", digits, cell)
		}
		if len(c.Cells) > 0 {
			b.WriteString("  ")
			b.WriteString(c.Bits())
		}
		if l := src.line(c.Source.Position); l != "" {
			b.WriteByte('\t')
			b.WriteString(l)
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return errors.Wrap(err, "write listing")
		}
	}
	return nil
}
