package assembler

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/Urethramancer/uasm/machine"
)

// The three passes below run in order, each over the whole program, and
// each returns a new slice of calls rather than editing its input.

// ResolveEQUs merges the global EQUs into the local ones (locals win),
// resolves chains of EQUs naming EQUs, and replaces every operand naming an
// EQU with its value. It returns the rewritten calls and the resolved table.
func ResolveEQUs(calls []InstructionCall, local map[Symbol]Token, globals []machine.EQU) ([]InstructionCall, map[Symbol]Token, error) {
	table := make(map[Symbol]Token, len(local)+len(globals))
	for k, v := range local {
		table[k] = v
	}
	for _, g := range globals {
		sym := Symbol(g.Name)
		if _, ok := table[sym]; ok {
			continue
		}
		table[sym] = Token{Kind: KindConstant, Contents: strconv.FormatInt(g.Value, 10), Legal: true}
	}

	resolved := make(map[Symbol]Token, len(table))
	for k := range table {
		v, err := followEqu(table, k)
		if err != nil {
			return nil, nil, err
		}
		resolved[k] = v
	}

	out := make([]InstructionCall, len(calls))
	for i := range calls {
		c := calls[i].clone()
		for j, o := range c.Operands {
			if o.Kind != KindVar {
				continue
			}
			if v, ok := resolved[o.Symbol()]; ok {
				c.Operands[j] = o.withValue(v)
			}
		}
		out[i] = c
	}
	return out, resolved, nil
}

// followEqu walks a chain of EQUs to its constant. A chain longer than the
// table can only be a cycle.
func followEqu(table map[Symbol]Token, name Symbol) (Token, error) {
	v := table[name]
	for steps := 0; v.Kind == KindVar; steps++ {
		if steps > len(table) {
			return Token{}, newError(ErrEquCycle, &v, "EQU %s is defined in terms of itself", name)
		}
		next, ok := table[v.Symbol()]
		if !ok {
			return Token{}, newError(ErrEquCycle, &v, "EQU %s does not resolve to a constant: %s is undefined", name, v.Contents)
		}
		v = next
	}
	if v.Kind != KindConstant {
		return Token{}, newError(ErrInvalidOperand, &v, "EQU %s has a non-numeric value", name)
	}
	return v, nil
}

// AssignLabels gives every label the cell address of the call it is attached
// to, starting at cell address start. A label defined twice is a name space error.
func AssignLabels(calls []InstructionCall, start uint64, cellSize int) (map[Symbol]Token, error) {
	labels := make(map[Symbol]Token)
	defs := make(map[Symbol]Token)
	addr := start
	for i := range calls {
		c := &calls[i]
		for _, l := range c.Labels {
			sym := l.Symbol()
			if prev, ok := defs[sym]; ok {
				return nil, newError(ErrNameSpace, &l, "label %s was already used at %s", sym, prev.Position)
			}
			defs[sym] = l
			labels[sym] = Token{Kind: KindConstant, Contents: strconv.FormatUint(addr, 10), Position: l.Position, Legal: true}
		}
		n, err := c.LengthInBits(addr, cellSize)
		if err != nil {
			return nil, err
		}
		if addr, err = c.advance(addr, n, cellSize); err != nil {
			return nil, err
		}
	}
	return labels, nil
}

// ReplaceVariables turns every remaining name into a number: labels become
// addresses, adjusted for PC-relative fields, and restricted field value
// names become their values.
func ReplaceVariables(calls []InstructionCall, labels map[Symbol]Token, start uint64, cellSize int) ([]InstructionCall, error) {
	out := make([]InstructionCall, len(calls))
	addr := start
	for i := range calls {
		c := calls[i].clone()
		n, err := c.LengthInBits(addr, cellSize)
		if err != nil {
			return nil, err
		}
		next, err := c.advance(addr, n, cellSize)
		if err != nil {
			return nil, err
		}

		if c.Spec == nil {
			for j, o := range c.Operands {
				if o.Kind != KindVar {
					continue
				}
				l, ok := labels[o.Symbol()]
				if !ok {
					return nil, newError(ErrInvalidOperand, &o, "undefined symbol %s", o.Contents)
				}
				c.Operands[j] = o.withValue(l)
			}
		} else if err := replaceOperands(&c, labels, addr, next); err != nil {
			return nil, err
		}

		out[i] = c
		addr = next
	}
	return out, nil
}

func replaceOperands(c *InstructionCall, labels map[Symbol]Token, addr, next uint64) error {
	fields := c.Spec.OperandFields()
	if len(c.Operands) > len(fields) {
		return newError(ErrInvalidOperand, &c.Operands[len(fields)], "%s: too many operands", c.Spec.Name)
	}
	for j := range c.Operands {
		o := c.Operands[j]
		f := &c.Spec.Fields[fields[j]]

		if l, ok := labels[o.Symbol()]; ok && o.Kind == KindVar {
			v, err := parseInteger(l.Contents)
			if err != nil {
				return newError(ErrNumberFormat, &o, "label %s has address %s", o.Contents, l.Contents)
			}
			switch f.Relativity {
			case machine.PCRelativePreIncrement:
				v.Sub(v, new(big.Int).SetUint64(addr))
			case machine.PCRelativePostIncrement:
				v.Sub(v, new(big.Int).SetUint64(next))
			}
			c.Operands[j] = o.withValue(Token{Kind: KindConstant, Contents: v.String()})
			continue
		}

		if f.Restricted() {
			fv, ok := f.Lookup(strings.TrimSpace(o.Contents))
			if !ok {
				return newError(ErrInvalidOperand, &o, "%s is not a valid value for field %s of %s", o.Contents, fieldName(c.Spec, fields[j]), c.Spec.Name)
			}
			c.Operands[j] = o.withValue(Token{Kind: KindConstant, Contents: strconv.FormatInt(fv.Value, 10)})
			continue
		}

		if o.Kind != KindConstant {
			return newError(ErrInvalidOperand, &o, "undefined symbol %s", o.Contents)
		}
	}
	return nil
}

func fieldName(s *machine.InstructionSpec, i int) string {
	if n := s.Fields[i].Name; n != "" {
		return n
	}
	return "#" + strconv.Itoa(i)
}
