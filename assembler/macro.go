package assembler

// macro is a named token template. Invoking it substitutes the arguments
// for the parameters and parses the body lines as if they were written in
// place of the call.
type macro struct {
	name   Token
	params []Token
	body   [][]Token
}

func (p *Parser) startMacro(kw Token, rest []Token) error {
	if len(rest) == 0 || rest[0].Kind != KindVar {
		return newError(ErrParse, &kw, "MACRO needs a name")
	}
	name := rest[0]
	if prev, ok := p.macros[name.Contents]; ok {
		return newError(ErrParse, &name, "duplicate macro %s, first defined at %s", name.Contents, prev.name.Position)
	}
	if _, ok := p.m.Instruction(name.Contents); ok {
		return newError(ErrParse, &name, "macro %s has the name of an instruction", name.Contents)
	}

	params, err := splitOperands(rest[1:])
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i := range params {
		if params[i].Kind != KindVar {
			return newError(ErrParse, &params[i], "macro %s: parameter must be a name, got %s", name.Contents, params[i].Kind)
		}
		if seen[params[i].Contents] {
			return newError(ErrParse, &params[i], "macro %s: duplicate parameter %s", name.Contents, params[i].Contents)
		}
		seen[params[i].Contents] = true
	}
	p.defining = &macro{name: name, params: params}
	return nil
}

// collect adds a line to the macro being defined, or closes it on ENDM.
func (p *Parser) collect(line []Token) error {
	if len(line) > 0 {
		switch line[0].Kind {
		case KindEndMacro:
			if len(line) > 1 {
				return newError(ErrParse, &line[1], "unexpected %s after ENDM", line[1].Kind)
			}
			p.macros[p.defining.name.Contents] = p.defining
			p.log.Debug("macro defined", "name", p.defining.name.Contents, "lines", len(p.defining.body))
			p.defining = nil
			return nil
		case KindMacro:
			return newError(ErrParse, &line[0], "MACRO inside the definition of %s", p.defining.name.Contents)
		}
	}
	p.defining.body = append(p.defining.body, append([]Token(nil), line...))
	return nil
}

func (p *Parser) expand(m *macro, call Token, rest []Token, depth int) error {
	if depth >= maxExpansionDepth {
		return newError(ErrParse, &call, "macro %s expands too deeply", m.name.Contents)
	}
	args, err := splitOperands(rest)
	if err != nil {
		return err
	}
	if len(args) != len(m.params) {
		return newError(ErrParse, &call, "macro %s takes %d arguments, got %d", m.name.Contents, len(m.params), len(args))
	}

	subst := make(map[string]Token, len(args))
	for i, prm := range m.params {
		subst[prm.Contents] = args[i]
	}
	for _, body := range m.body {
		line := make([]Token, len(body))
		for i, t := range body {
			if a, ok := subst[t.Contents]; ok && t.Kind == KindVar {
				t = a
			}
			line[i] = t
		}
		if err := p.parseLine(line, depth+1); err != nil {
			return err
		}
	}
	return nil
}
