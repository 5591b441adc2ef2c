package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Table is a plan together with the rows to drive through it, as stored in
// a scenario file.
type Table struct {
	Plan `yaml:",inline"`
	Rows []Row `yaml:"rows"`
}

// Lookup resolves ${NAME} references in row inputs.
type Lookup func(name string) (string, bool)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadTable reads and validates a scenario file. Row inputs may reference
// environment variables as ${NAME}.
func LoadTable(path string) (*Table, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario table: %w", err)
	}
	t, err := ParseTable(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes a scenario table, expands ${NAME} references in row
// inputs through lookup and validates the result. Unknown keys are errors.
func ParseTable(data []byte, lookup Lookup) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse scenario table: %w", err)
	}

	for i := range t.Rows {
		inputs, err := expandInputs(t.Rows[i].Inputs, lookup)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", t.Rows[i].Label, err)
		}
		t.Rows[i].Inputs = inputs
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the plan and that every row carries a label, an expected
// outcome and a value (possibly empty) for every input the plan fills.
func (t *Table) Validate() error {
	if err := t.Plan.Validate(); err != nil {
		return err
	}
	if len(t.Rows) == 0 {
		return errors.New("scenario table has no rows")
	}
	inputs := t.Plan.Inputs()
	seen := make(map[string]bool, len(t.Rows))
	for i, row := range t.Rows {
		if row.Label == "" {
			return fmt.Errorf("row %d has no label", i+1)
		}
		if seen[row.Label] {
			return fmt.Errorf("duplicate row label %q", row.Label)
		}
		seen[row.Label] = true
		if row.Expect.IsZero() {
			return fmt.Errorf("row %q has no expected outcome", row.Label)
		}
		for _, in := range inputs {
			if _, ok := row.Inputs[in]; !ok {
				return fmt.Errorf("row %q has no value for input %q", row.Label, in)
			}
		}
	}
	return nil
}

func expandInputs(in map[string]string, lookup Lookup) (map[string]string, error) {
	if len(in) == 0 {
		return in, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		var missing []string
		out[k] = envRef.ReplaceAllStringFunc(v, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			val, ok := lookup(name)
			if !ok {
				missing = append(missing, name)
			}
			return val
		})
		if len(missing) > 0 {
			return nil, fmt.Errorf("input %s references unset variable %s", k, missing[0])
		}
	}
	return out, nil
}
