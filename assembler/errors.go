package assembler

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies assembly failures.
type ErrorKind int

const (
	// ErrLexical is a scanning failure: bad escape, unterminated string.
	ErrLexical ErrorKind = iota
	// ErrParse is a syntax failure: unknown mnemonic, bad pseudo-op arguments.
	ErrParse
	// ErrNameSpace is a name defined twice.
	ErrNameSpace
	// ErrInvalidOperand is an operand that cannot be encoded.
	ErrInvalidOperand
	// ErrNumberFormat is malformed integer text.
	ErrNumberFormat
	// ErrEquCycle is an EQU chain that never reaches a constant.
	ErrEquCycle
	// ErrInclude is a failed or cyclic include.
	ErrInclude
)

var errorKindNames = [...]string{"lexical error", "parse error", "name space error", "invalid operand", "number format error", "EQU cycle", "include error"}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("error(%d)", int(k))
	}
	return errorKindNames[k]
}

// Error is the single error type returned by the assembler. Token, when
// set, is the offending token and locates the error in the source.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Token *Token
	cause error
}

func (e *Error) Error() string {
	if e.Token != nil {
		return fmt.Sprintf("%s: %s: %s", e.Token.Position, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, tok *Token, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	if tok != nil {
		t := *tok
		e.Token = &t
	}
	return e
}

func wrapError(kind ErrorKind, tok *Token, err error, msg string) *Error {
	e := newError(kind, tok, "%s", errors.Wrap(err, msg).Error())
	e.cause = err
	return e
}

// IsKind reports whether err is an assembler *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
