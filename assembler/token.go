package assembler

import (
	"fmt"
	"strings"
)

// Kind is the lexical class of a Token.
type Kind int

const (
	// KindEOF ends the input.
	KindEOF Kind = iota
	// KindEOL ends a source line.
	KindEOL
	// KindVar is an identifier: mnemonic, label use, EQU or field value name.
	KindVar
	// KindConstant is an integer literal.
	KindConstant
	// KindString is a decoded quoted string.
	KindString
	// KindLabel is an identifier followed by the label character.
	KindLabel
	KindComma
	KindLBracket
	KindRBracket
	KindLParen
	KindRParen
	// KindIllegal is a character the punctuation table rejects.
	KindIllegal

	// Keywords.
	KindEqu
	KindMacro
	KindEndMacro
	KindInclude
	KindAscii
	KindData
	KindGlobal
	KindAlign
	KindPos
	KindLong
	KindShort
)

var kindNames = map[Kind]string{
	KindEOF:      "end of file",
	KindEOL:      "end of line",
	KindVar:      "identifier",
	KindConstant: "constant",
	KindString:   "string",
	KindLabel:    "label",
	KindComma:    "','",
	KindLBracket: "'['",
	KindRBracket: "']'",
	KindLParen:   "'('",
	KindRParen:   "')'",
	KindIllegal:  "illegal character",
	KindEqu:      "EQU",
	KindMacro:    "MACRO",
	KindEndMacro: "ENDM",
	KindInclude:  "include",
	KindAscii:    "ascii",
	KindData:     "data",
	KindGlobal:   "global",
	KindAlign:    "align",
	KindPos:      "pos",
	KindLong:     "long",
	KindShort:    "short",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// bareKeywords are recognised without the pseudo prefix, in any case.
var bareKeywords = map[string]Kind{
	"equ":   KindEqu,
	"macro": KindMacro,
	"endm":  KindEndMacro,
}

// pseudoKeywords follow the pseudo character.
var pseudoKeywords = map[string]Kind{
	"include": KindInclude,
	"ascii":   KindAscii,
	"data":    KindData,
	"global":  KindGlobal,
	"align":   KindAlign,
	"pos":     KindPos,
	"long":    KindLong,
	"short":   KindShort,
}

// Symbol is the key a name is stored under in label and EQU tables.
type Symbol string

// Position locates a token in its source file.
type Position struct {
	File   string
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	s := p.File
	if s == "" {
		s = "<input>"
	}
	if p.Line > 0 {
		s += fmt.Sprintf(":%d:%d", p.Line, p.Column)
	}
	return s
}

// Token is one lexical unit. Tokens are values; passes create new ones.
type Token struct {
	Kind     Kind
	Contents string
	Position
	Legal bool
}

// Symbol returns the table key for the token: its trimmed contents, without
// a trailing label character when the token defines a label.
func (t Token) Symbol() Symbol {
	s := strings.TrimSpace(t.Contents)
	if t.Kind == KindLabel && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return Symbol(s)
}

func (t Token) String() string {
	switch t.Kind {
	case KindEOF, KindEOL:
		return t.Kind.String()
	case KindString:
		return fmt.Sprintf("%q", t.Contents)
	}
	return t.Contents
}

// withValue keeps the position of t and takes contents and kind from v.
// The contents are padded to the width of the original text so that
// highlighting in regenerated source stays aligned.
func (t Token) withValue(v Token) Token {
	c := v.Contents
	if w := len(t.Contents); len(c) < w {
		c = padNumber(c, w)
	}
	return Token{Kind: v.Kind, Contents: c, Position: t.Position, Legal: true}
}

// padNumber left pads a number with zeros after its sign, or with spaces if
// the text is not a plain decimal number.
func padNumber(s string, w int) string {
	n := w - len(s)
	if n <= 0 {
		return s
	}
	sign := ""
	digits := s
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, digits = s[:1], s[1:]
	}
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return strings.Repeat(" ", n) + s
	}
	return sign + strings.Repeat("0", n) + digits
}
