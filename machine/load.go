package machine

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Load reads a JSON machine description and validates it.
func Load(r io.Reader) (*Machine, error) {
	var m Machine
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decode machine")
	}
	if m.Punctuation == nil {
		m.Punctuation = DefaultPunctuation()
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid machine")
	}
	return &m, nil
}

// LoadFile reads a JSON machine description from a file.
func LoadFile(name string) (*Machine, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "load machine")
	}
	defer f.Close()

	m, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load machine %s", name)
	}
	return m, nil
}

// Save writes the description as indented JSON.
func (m *Machine) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return errors.Wrap(enc.Encode(m), "save machine")
}
