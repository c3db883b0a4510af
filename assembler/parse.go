package assembler

import (
	"log/slog"
	"path"

	"github.com/Urethramancer/uasm/machine"
)

// maxExpansionDepth bounds nested macro calls.
const maxExpansionDepth = 64

// Opener returns the contents of an included file. The name has already
// been joined with the directory of the including file.
type Opener func(name string) ([]byte, error)

// Parser groups tokens into InstructionCalls. A Parser is good for one run.
type Parser struct {
	m    *machine.Machine
	open Opener
	log  *slog.Logger

	calls   []InstructionCall
	pending []Token
	equs    map[Symbol]Token
	equDefs map[Symbol]Token
	globals []Token
	macros  map[string]*macro
	files   []string

	defining *macro
}

// NewParser returns a parser for the instruction set of m.
func NewParser(m *machine.Machine, open Opener, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Parser{
		m:       m,
		open:    open,
		log:     log,
		equs:    make(map[Symbol]Token),
		equDefs: make(map[Symbol]Token),
		macros:  make(map[string]*macro),
	}
}

// Parse reads all of s and returns the instruction calls in source order and
// the local EQUs, mapping each name to its unresolved value token.
func (p *Parser) Parse(s *Scanner) ([]InstructionCall, map[Symbol]Token, error) {
	p.files = append(p.files, path.Clean(s.file))
	if err := p.parseFile(s); err != nil {
		return nil, nil, err
	}
	p.files = p.files[:len(p.files)-1]

	if len(p.pending) > 0 {
		// Trailing labels mark the end address.
		p.calls = append(p.calls, InstructionCall{Labels: p.pending, Pseudo: OpData, Width: 1, Keyword: p.pending[0]})
		p.pending = nil
	}
	if err := p.checkSymbols(); err != nil {
		return nil, nil, err
	}
	return p.calls, p.equs, nil
}

// Globals returns the names exported with .global.
func (p *Parser) Globals() []Symbol {
	var g []Symbol
	for _, t := range p.globals {
		g = append(g, t.Symbol())
	}
	return g
}

func (p *Parser) parseFile(s *Scanner) error {
	for {
		line, end, err := readLine(s)
		if err != nil {
			return err
		}
		if p.defining != nil {
			if err := p.collect(line); err != nil {
				return err
			}
		} else if err := p.parseLine(line, 0); err != nil {
			return err
		}
		if end {
			break
		}
	}
	if p.defining != nil {
		return newError(ErrParse, &p.defining.name, "MACRO %s has no ENDM", p.defining.name.Contents)
	}
	return nil
}

// readLine fetches tokens up to the end of the line.
func readLine(s *Scanner) (line []Token, eof bool, err error) {
	for {
		t, err := s.Next()
		if err != nil {
			return nil, false, err
		}
		switch t.Kind {
		case KindEOF:
			return line, true, nil
		case KindEOL:
			return line, false, nil
		}
		line = append(line, t)
	}
}

func (p *Parser) parseLine(line []Token, depth int) error {
	for _, t := range line {
		if !t.Legal || t.Kind == KindIllegal {
			return newError(ErrLexical, &t, "illegal character %s", t.Contents)
		}
	}

	for len(line) > 0 && line[0].Kind == KindLabel {
		p.pending = append(p.pending, line[0])
		line = line[1:]
	}
	if len(line) == 0 {
		return nil
	}

	head, rest := line[0], line[1:]
	if head.Kind == KindVar && len(rest) > 0 && rest[0].Kind == KindEqu {
		return p.defineEqu(rest[0], head, rest[1:])
	}

	switch head.Kind {
	case KindEqu:
		if len(rest) == 0 {
			return newError(ErrParse, &head, "EQU needs a name and a value")
		}
		return p.defineEqu(head, rest[0], rest[1:])
	case KindMacro:
		return p.startMacro(head, rest)
	case KindEndMacro:
		return newError(ErrParse, &head, "ENDM without MACRO")
	case KindInclude:
		return p.include(head, rest)
	case KindGlobal:
		return p.global(head, rest)
	case KindAscii:
		return p.ascii(head, rest)
	case KindData:
		return p.data(head, rest)
	case KindLong:
		return p.sized(head, rest, 4)
	case KindShort:
		return p.sized(head, rest, 2)
	case KindAlign:
		return p.cellDirective(head, rest, OpAlign)
	case KindPos:
		return p.cellDirective(head, rest, OpPos)
	case KindVar:
		if mac, ok := p.macros[head.Contents]; ok {
			return p.expand(mac, head, rest, depth)
		}
		return p.instruction(head, rest)
	}
	return newError(ErrParse, &head, "unexpected %s", head.Kind)
}

// emit appends a call and hands it the labels seen since the previous one.
func (p *Parser) emit(c InstructionCall) {
	c.Labels = p.pending
	p.pending = nil
	p.calls = append(p.calls, c)
}

// splitOperands drops the commas between operands. Commas are optional but
// may only separate two operands.
func splitOperands(toks []Token) ([]Token, error) {
	var ops []Token
	comma := true
	for i := range toks {
		t := toks[i]
		if t.Kind == KindComma {
			if comma {
				return nil, newError(ErrParse, &t, "unexpected ','")
			}
			comma = true
			continue
		}
		ops = append(ops, t)
		comma = false
	}
	if comma && len(ops) > 0 {
		t := toks[len(toks)-1]
		return nil, newError(ErrParse, &t, "trailing ','")
	}
	return ops, nil
}

func (p *Parser) instruction(head Token, rest []Token) error {
	spec, ok := p.m.Instruction(head.Contents)
	if !ok {
		return newError(ErrParse, &head, "unknown instruction %s", head.Contents)
	}
	ops, err := splitOperands(rest)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].Kind != KindVar && ops[i].Kind != KindConstant {
			return newError(ErrParse, &ops[i], "%s: unexpected %s operand", head.Contents, ops[i].Kind)
		}
	}
	hi := len(spec.OperandFields())
	if lo := spec.MinOperands(); len(ops) < lo || len(ops) > hi {
		if lo == hi {
			return newError(ErrParse, &head, "%s takes %d operands, got %d", head.Contents, hi, len(ops))
		}
		return newError(ErrParse, &head, "%s takes %d to %d operands, got %d", head.Contents, lo, hi, len(ops))
	}
	p.emit(InstructionCall{Spec: spec, Keyword: head, Operands: ops})
	return nil
}

func (p *Parser) defineEqu(kw, name Token, rest []Token) error {
	if len(p.pending) > 0 {
		return newError(ErrParse, &p.pending[0], "label %s on an EQU line", p.pending[0].Contents)
	}
	if name.Kind != KindVar {
		return newError(ErrParse, &name, "EQU: expected a name, got %s", name.Kind)
	}
	if len(rest) != 1 {
		return newError(ErrParse, &kw, "EQU %s needs exactly one value", name.Contents)
	}
	sym := name.Symbol()
	if prev, ok := p.equDefs[sym]; ok {
		return newError(ErrNameSpace, &name, "EQU %s already defined at %s", sym, prev.Position)
	}

	val := rest[0]
	switch val.Kind {
	case KindConstant:
	case KindVar:
		// Only EQUs defined so far may be referenced; this rules out
		// forward references and therefore cycles.
		if _, ok := p.equs[val.Symbol()]; !ok {
			if _, ok := p.m.EQU(string(val.Symbol())); !ok {
				return newError(ErrInvalidOperand, &val, "EQU %s refers to undefined EQU %s", sym, val.Contents)
			}
		}
	default:
		return newError(ErrParse, &val, "EQU %s: expected a constant or EQU name, got %s", sym, val.Kind)
	}
	p.equs[sym] = val
	p.equDefs[sym] = name
	return nil
}

func (p *Parser) include(kw Token, rest []Token) error {
	if len(rest) != 1 || rest[0].Kind != KindString {
		return newError(ErrParse, &kw, "%s needs a quoted file name", kw.Contents)
	}
	cur := p.files[len(p.files)-1]
	name := rest[0].Contents
	if !path.IsAbs(name) {
		name = path.Join(path.Dir(cur), name)
	}
	for _, f := range p.files {
		if f == name {
			return newError(ErrInclude, &rest[0], "cyclic include of %s", name)
		}
	}
	if p.open == nil {
		return newError(ErrInclude, &rest[0], "includes are not available")
	}

	src, err := p.open(name)
	if err != nil {
		return wrapError(ErrInclude, &rest[0], err, "include")
	}
	p.log.Debug("include", "file", name, "from", cur)

	p.files = append(p.files, name)
	defer func() { p.files = p.files[:len(p.files)-1] }()
	return p.parseFile(NewScanner(name, src, p.m.Punctuation))
}

func (p *Parser) global(kw Token, rest []Token) error {
	ops, err := splitOperands(rest)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return newError(ErrParse, &kw, "%s needs at least one name", kw.Contents)
	}
	for i := range ops {
		if ops[i].Kind != KindVar {
			return newError(ErrParse, &ops[i], "%s: expected a label name, got %s", kw.Contents, ops[i].Kind)
		}
	}
	p.globals = append(p.globals, ops...)
	return nil
}

func (p *Parser) ascii(kw Token, rest []Token) error {
	if len(rest) != 1 || rest[0].Kind != KindString {
		return newError(ErrParse, &kw, "%s needs one quoted string", kw.Contents)
	}
	p.emit(InstructionCall{Pseudo: OpAscii, Keyword: kw, Operands: rest})
	return nil
}

// data handles ".data N v" and ".data N [v1, v2, ...]".
func (p *Parser) data(kw Token, rest []Token) error {
	if len(rest) < 2 || rest[0].Kind != KindConstant {
		return newError(ErrParse, &kw, "%s needs a byte count and a value", kw.Contents)
	}
	n, err := parseInteger(rest[0].Contents)
	if err != nil || n.Sign() <= 0 || !n.IsInt64() || n.Int64() > 8 {
		return newError(ErrParse, &rest[0], "%s: byte count must be 1 to 8", kw.Contents)
	}
	vals := rest[1:]
	if vals[0].Kind == KindComma {
		vals = vals[1:]
	}
	if len(vals) > 0 && vals[0].Kind == KindLBracket {
		last := vals[len(vals)-1]
		if last.Kind != KindRBracket {
			return newError(ErrParse, &last, "%s: missing ']'", kw.Contents)
		}
		vals = vals[1 : len(vals)-1]
		if len(vals) == 0 {
			return newError(ErrParse, &last, "%s: empty value list", kw.Contents)
		}
	} else if len(vals) != 1 {
		return newError(ErrParse, &kw, "%s: several values must be enclosed in [ ]", kw.Contents)
	}
	return p.values(kw, vals, int(n.Int64()))
}

func (p *Parser) sized(kw Token, rest []Token, width int) error {
	if len(rest) == 0 {
		return newError(ErrParse, &kw, "%s needs at least one value", kw.Contents)
	}
	return p.values(kw, rest, width)
}

func (p *Parser) values(kw Token, toks []Token, width int) error {
	ops, err := splitOperands(toks)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].Kind != KindVar && ops[i].Kind != KindConstant {
			return newError(ErrParse, &ops[i], "%s: unexpected %s", kw.Contents, ops[i].Kind)
		}
	}
	p.emit(InstructionCall{Pseudo: OpData, Keyword: kw, Operands: ops, Width: width})
	return nil
}

func (p *Parser) cellDirective(kw Token, rest []Token, op PseudoOp) error {
	if len(rest) != 1 || (rest[0].Kind != KindConstant && rest[0].Kind != KindVar) {
		return newError(ErrParse, &kw, "%s needs one constant", kw.Contents)
	}
	p.emit(InstructionCall{Pseudo: op, Keyword: kw, Operands: rest})
	return nil
}

// checkSymbols verifies after the whole file is read that every name used
// as an operand is defined and that labels do not clash with EQUs.
func (p *Parser) checkSymbols() error {
	labels := make(map[Symbol]bool)
	for i := range p.calls {
		for j := range p.calls[i].Labels {
			l := &p.calls[i].Labels[j]
			sym := l.Symbol()
			if _, ok := p.equs[sym]; ok {
				return newError(ErrNameSpace, l, "label %s is already used as an EQU", sym)
			}
			if _, ok := p.m.EQU(string(sym)); ok {
				return newError(ErrNameSpace, l, "label %s is already used as a global EQU", sym)
			}
			labels[sym] = true
		}
	}

	known := func(t Token) bool {
		sym := t.Symbol()
		if labels[sym] {
			return true
		}
		if _, ok := p.equs[sym]; ok {
			return true
		}
		_, ok := p.m.EQU(string(sym))
		return ok
	}

	for i := range p.calls {
		c := &p.calls[i]
		var fields []int
		if c.Spec != nil {
			fields = c.Spec.OperandFields()
		}
		for j := range c.Operands {
			o := &c.Operands[j]
			if o.Kind != KindVar || known(*o) {
				continue
			}
			if c.Spec != nil && j < len(fields) {
				if _, ok := c.Spec.Fields[fields[j]].Lookup(o.Contents); ok {
					continue
				}
			}
			return newError(ErrInvalidOperand, o, "undefined symbol %s", o.Contents)
		}
		if (c.Pseudo == OpAlign || c.Pseudo == OpPos) && c.Operands[0].Kind == KindVar && labels[c.Operands[0].Symbol()] {
			return newError(ErrInvalidOperand, &c.Operands[0], "%s can not take a label", c.Keyword.Contents)
		}
	}

	for i := range p.globals {
		g := &p.globals[i]
		if !labels[g.Symbol()] {
			return newError(ErrInvalidOperand, g, "global %s is not a label", g.Contents)
		}
	}
	return nil
}
