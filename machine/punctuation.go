package machine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Role is what a punctuation character does in source text.
type Role int

const (
	// Symbol characters may appear inside identifiers.
	Symbol Role = iota
	// Label marks the end of a label definition.
	Label
	// Comment starts a comment running to the end of the line.
	Comment
	// Pseudo prefixes pseudo-op keywords.
	Pseudo
	// Illegal characters may not appear outside strings and comments.
	Illegal
)

var roleNames = [...]string{"symbol", "label", "comment", "pseudo", "illegal"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// PunctuationChars is the fixed set of characters a role table covers.
const PunctuationChars = "!#$%&*+-/:;<=>?@^_`|~.'{}\\"

// Punctuation assigns a role to every character of PunctuationChars.
type Punctuation map[rune]Role

// DefaultPunctuation uses ':' for labels, ';' for comments and '.' for pseudo-ops.
// Every other character is a symbol character.
func DefaultPunctuation() Punctuation {
	p := make(Punctuation, len(PunctuationChars))
	for _, c := range PunctuationChars {
		p[c] = Symbol
	}
	p[':'] = Label
	p[';'] = Comment
	p['.'] = Pseudo
	return p
}

// IsPunctuation reports whether c belongs to the configurable set.
func IsPunctuation(c rune) bool {
	return strings.ContainsRune(PunctuationChars, c)
}

// Role returns the role of c. Characters outside the set are illegal.
func (p Punctuation) Role(c rune) Role {
	if r, ok := p[c]; ok {
		return r
	}
	return Illegal
}

// Char returns the character carrying a role that only one character may have.
func (p Punctuation) Char(r Role) rune {
	for _, c := range PunctuationChars {
		if p[c] == r {
			return c
		}
	}
	return 0
}

// Validate checks that exactly one character each acts as label, pseudo and comment marker.
func (p Punctuation) Validate() error {
	counts := make(map[Role]int)
	for c, r := range p {
		if !IsPunctuation(c) {
			return errors.Errorf("%q is not a punctuation character", c)
		}
		counts[r]++
	}
	for _, r := range []Role{Label, Pseudo, Comment} {
		if counts[r] != 1 {
			return errors.Errorf("punctuation needs exactly one %s character, found %d", r, counts[r])
		}
	}
	return nil
}

// MarshalJSON writes the table as character → role name.
func (p Punctuation) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(p))
	for c, r := range p {
		m[string(c)] = r.String()
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a partial table on top of the defaults.
func (p *Punctuation) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	t := DefaultPunctuation()
	// Reassigned roles replace their default holders.
	for k, v := range m {
		rs := []rune(k)
		if len(rs) != 1 {
			return errors.Errorf("punctuation key %q is not a single character", k)
		}
		role := Role(-1)
		for i, n := range roleNames {
			if strings.EqualFold(n, v) {
				role = Role(i)
			}
		}
		if role < 0 {
			return errors.Errorf("unknown punctuation role %q for %q", v, k)
		}
		if role == Label || role == Pseudo || role == Comment {
			if old := t.Char(role); old != 0 && old != rs[0] {
				if _, explicit := m[string(old)]; !explicit {
					t[old] = Symbol
				}
			}
		}
		t[rs[0]] = role
	}
	*p = t
	return nil
}

func (p Punctuation) clone() Punctuation {
	if p == nil {
		return nil
	}
	c := make(Punctuation, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
