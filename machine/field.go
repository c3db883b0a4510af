package machine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Relativity decides how a label operand is adjusted before packing.
type Relativity int

const (
	// Absolute fields take the label address as is.
	Absolute Relativity = iota
	// PCRelativePreIncrement fields take the label address minus the address of the current instruction.
	PCRelativePreIncrement
	// PCRelativePostIncrement fields take the label address minus the address of the next instruction.
	PCRelativePostIncrement
)

var relativityNames = [...]string{"absolute", "pcRelativePreIncrement", "pcRelativePostIncrement"}

func (r Relativity) String() string {
	if r < 0 || int(r) >= len(relativityNames) {
		return fmt.Sprintf("relativity(%d)", int(r))
	}
	return relativityNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r Relativity) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(relativityNames) {
		return nil, errors.Errorf("invalid relativity %d", int(r))
	}
	return []byte(relativityNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Relativity) UnmarshalText(b []byte) error {
	for i, n := range relativityNames {
		if strings.EqualFold(n, string(b)) {
			*r = Relativity(i)
			return nil
		}
	}
	return errors.Errorf("unknown relativity: %s", b)
}

// FieldType says whether an operand is written for a field.
type FieldType int

const (
	// Required fields need an operand.
	Required FieldType = iota
	// Optional fields may have their operand left out at the end of a line; they pack as 0.
	Optional
	// Ignored fields never take an operand and pack as 0.
	Ignored
)

var fieldTypeNames = [...]string{"required", "optional", "ignored"}

func (t FieldType) String() string {
	if t < 0 || int(t) >= len(fieldTypeNames) {
		return fmt.Sprintf("fieldtype(%d)", int(t))
	}
	return fieldTypeNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(fieldTypeNames) {
		return nil, errors.Errorf("invalid field type %d", int(t))
	}
	return []byte(fieldTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	for i, n := range fieldTypeNames {
		if strings.EqualFold(n, string(b)) {
			*t = FieldType(i)
			return nil
		}
	}
	return errors.Errorf("unknown field type: %s", b)
}

// FieldValue is a named value a restricted field accepts.
type FieldValue struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Field is one operand slot of an instruction.
type Field struct {
	Name       string       `json:"name"`
	NumBits    int          `json:"bits"`
	Relativity Relativity   `json:"relativity"`
	Type       FieldType    `json:"type"`
	Signed     bool         `json:"signed"`
	Values     []FieldValue `json:"values,omitempty"`
}

// Restricted reports whether only named values are accepted.
func (f *Field) Restricted() bool {
	return len(f.Values) > 0
}

// Lookup finds a named value. Names match exactly.
func (f *Field) Lookup(name string) (FieldValue, bool) {
	for _, v := range f.Values {
		if v.Name == name {
			return v, true
		}
	}
	return FieldValue{}, false
}

// Bounds returns the smallest and largest value the field can hold:
// [0, 2^n-1] unsigned, [-2^(n-1), 2^(n-1)-1] signed. A field without bits
// holds only 0.
func (f *Field) Bounds() (lo, hi *big.Int) {
	if f.NumBits <= 0 {
		return new(big.Int), new(big.Int)
	}
	n := uint(f.NumBits)
	if f.Signed {
		half := new(big.Int).Lsh(big.NewInt(1), n-1)
		return new(big.Int).Neg(half), half.Sub(half, big.NewInt(1))
	}
	return new(big.Int), new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), n), big.NewInt(1))
}

// Holds reports whether v lies within Bounds.
func (f *Field) Holds(v *big.Int) bool {
	lo, hi := f.Bounds()
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}

// Fits is Holds for an int64.
func (f *Field) Fits(v int64) bool {
	return f.Holds(big.NewInt(v))
}

// TakesOperand reports whether an operand is written in source for this field.
func (f *Field) TakesOperand() bool {
	return f.NumBits > 0 && f.Type != Ignored
}

func (f Field) clone() Field {
	if f.Values != nil {
		f.Values = append([]FieldValue(nil), f.Values...)
	}
	return f
}
