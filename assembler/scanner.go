package assembler

import (
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Urethramancer/uasm/machine"
)

// Scanner turns source text into Tokens, one at a time.
// Character classes come from the machine's punctuation table.
type Scanner struct {
	file  string
	src   []byte
	punct machine.Punctuation

	off  int
	line int
	col  int

	label   rune
	pseudo  rune
	comment rune
}

// NewScanner prepares src for scanning. The file name is recorded in every token.
func NewScanner(file string, src []byte, p machine.Punctuation) *Scanner {
	if p == nil {
		p = machine.DefaultPunctuation()
	}
	return &Scanner{
		file:    file,
		src:     src,
		punct:   p,
		line:    1,
		col:     1,
		label:   p.Char(machine.Label),
		pseudo:  p.Char(machine.Pseudo),
		comment: p.Char(machine.Comment),
	}
}

func (s *Scanner) peek() (rune, int) {
	if s.off >= len(s.src) {
		return -1, 0
	}
	return utf8.DecodeRune(s.src[s.off:])
}

func (s *Scanner) peekAt(n int) rune {
	off := s.off
	for ; n > 0 && off < len(s.src); n-- {
		_, w := utf8.DecodeRune(s.src[off:])
		off += w
	}
	if off >= len(s.src) {
		return -1
	}
	r, _ := utf8.DecodeRune(s.src[off:])
	return r
}

func (s *Scanner) advance() rune {
	r, w := s.peek()
	if w == 0 {
		return -1
	}
	s.off += w
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r
}

func (s *Scanner) pos() Position {
	return Position{File: s.file, Line: s.line, Column: s.col, Offset: s.off}
}

func (s *Scanner) token(k Kind, contents string, p Position) Token {
	return Token{Kind: k, Contents: contents, Position: p, Legal: true}
}

// isIdentStart reports whether r can begin an identifier.
func (s *Scanner) isIdentStart(r rune) bool {
	if unicode.IsLetter(r) {
		return true
	}
	return machine.IsPunctuation(r) && s.punct.Role(r) == machine.Symbol
}

func (s *Scanner) isIdentRune(r rune) bool {
	return s.isIdentStart(r) || unicode.IsDigit(r)
}

// startsNumber reports whether r, followed by next, begins a numeric literal.
func (s *Scanner) startsNumber(r, next rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	if (r == '-' || r == '+') && next >= '0' && next <= '9' {
		return s.punct.Role(r) == machine.Symbol
	}
	return false
}

// Next returns the next token. At end of input it keeps returning KindEOF.
func (s *Scanner) Next() (Token, error) {
	for {
		r, _ := s.peek()
		switch {
		case r == -1:
			return s.token(KindEOF, "", s.pos()), nil
		case r == '\n':
			p := s.pos()
			s.advance()
			return s.token(KindEOL, "\n", p), nil
		case r == ' ' || r == '\t' || r == '\r' || r == '\f' || r == '\v':
			s.advance()
			continue
		case r == s.comment:
			for r != '\n' && r != -1 {
				s.advance()
				r, _ = s.peek()
			}
			continue
		}
		break
	}

	p := s.pos()
	r, _ := s.peek()
	switch r {
	case '"':
		return s.scanString()
	case ',':
		s.advance()
		return s.token(KindComma, ",", p), nil
	case '[':
		s.advance()
		return s.token(KindLBracket, "[", p), nil
	case ']':
		s.advance()
		return s.token(KindRBracket, "]", p), nil
	case '(':
		s.advance()
		return s.token(KindLParen, "(", p), nil
	case ')':
		s.advance()
		return s.token(KindRParen, ")", p), nil
	}

	if r == s.pseudo && unicode.IsLetter(s.peekAt(1)) {
		return s.scanPseudo()
	}
	if s.startsNumber(r, s.peekAt(1)) {
		return s.scanNumber()
	}
	if s.isIdentStart(r) {
		return s.scanIdent()
	}

	s.advance()
	return Token{Kind: KindIllegal, Contents: string(r), Position: p}, nil
}

func (s *Scanner) word() string {
	start := s.off
	for {
		r, _ := s.peek()
		if r == -1 || !s.isIdentRune(r) {
			break
		}
		s.advance()
	}
	return string(s.src[start:s.off])
}

func (s *Scanner) scanIdent() (Token, error) {
	p := s.pos()
	w := s.word()
	if r, _ := s.peek(); r == s.label && s.label != 0 {
		s.advance()
		return s.token(KindLabel, w+string(r), p), nil
	}
	if k, ok := bareKeywords[strings.ToLower(w)]; ok {
		return s.token(k, w, p), nil
	}
	return s.token(KindVar, w, p), nil
}

func (s *Scanner) scanPseudo() (Token, error) {
	p := s.pos()
	s.advance()
	w := s.word()
	k, ok := pseudoKeywords[strings.ToLower(w)]
	if !ok {
		t := Token{Kind: KindIllegal, Contents: string(s.pseudo) + w, Position: p}
		return t, newError(ErrLexical, &t, "unknown pseudo-op %s", t.Contents)
	}
	return s.token(k, string(s.pseudo)+w, p), nil
}

func (s *Scanner) scanNumber() (Token, error) {
	p := s.pos()
	start := s.off
	s.advance()
	s.word()
	t := s.token(KindConstant, string(s.src[start:s.off]), p)
	if _, err := parseInteger(t.Contents); err != nil {
		return t, newError(ErrNumberFormat, &t, "malformed integer %s", t.Contents)
	}
	return t, nil
}

func (s *Scanner) scanString() (Token, error) {
	p := s.pos()
	s.advance()
	var b strings.Builder
	for {
		ep := s.pos()
		r := s.advance()
		switch r {
		case -1, '\n':
			t := s.token(KindString, b.String(), p)
			return t, newError(ErrLexical, &t, "unterminated string")
		case '"':
			return s.token(KindString, b.String(), p), nil
		case '\\':
			e := s.advance()
			switch e {
			case '\\':
				b.WriteByte('\\')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			default:
				t := Token{Kind: KindIllegal, Contents: "\\" + string(e), Position: ep}
				if e == -1 || e == '\n' {
					t.Contents = "\\"
				}
				return t, newError(ErrLexical, &t, "illegal escape character %q in string", e)
			}
		default:
			b.WriteRune(r)
		}
	}
}

// parseInteger reads a decimal, 0x hexadecimal or 0b binary literal with an optional sign.
func parseInteger(s string) (*big.Int, error) {
	text := s
	neg := false
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
		neg = text[0] == '-'
		text = text[1:]
	}
	base := 10
	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, text = 16, text[2:]
	case strings.HasPrefix(lower, "0b"):
		base, text = 2, text[2:]
	}
	v, ok := new(big.Int).SetString(text, base)
	if !ok || text == "" || strings.ContainsAny(text, "+-_") {
		return nil, newError(ErrNumberFormat, nil, "malformed integer %s", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}
