// Package outcome defines what a login attempt can result in and how the
// result is read off the page.
package outcome

import (
	"fmt"
	"slices"
	"strings"
)

// Kind tags an Outcome.
type Kind int

const (
	// Unknown is the zero value: no classification was made.
	Unknown Kind = iota
	Success
	// ValidationFailure means the form rejected the input before submitting
	// it, e.g. a required field was empty.
	ValidationFailure
	// CredentialFailure means the server rejected the credentials.
	CredentialFailure
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	Success:           "success",
	ValidationFailure: "validation",
	CredentialFailure: "credential",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the classified result of one attempt. Fields is only used by
// ValidationFailure and lists the fields that carried an error, sorted.
type Outcome struct {
	Kind   Kind
	Fields []string
}

func Succeeded() Outcome  { return Outcome{Kind: Success} }
func Credential() Outcome { return Outcome{Kind: CredentialFailure} }

// Validation returns a ValidationFailure for fields. Without fields it
// stands for "some field", which is what an expectation usually wants.
func Validation(fields ...string) Outcome {
	return Outcome{Kind: ValidationFailure, Fields: normalizeFields(fields)}
}

func normalizeFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IsZero reports whether no classification was made.
func (o Outcome) IsZero() bool { return o.Kind == Unknown }

// Equal reports whether o and other are the same outcome.
func (o Outcome) Equal(other Outcome) bool {
	return o.Kind == other.Kind && slices.Equal(o.Fields, other.Fields)
}

// Matches reports whether actual satisfies the expectation o. Kinds must be
// equal. A ValidationFailure expectation with fields additionally requires
// every listed field among the actual ones; without fields any field set
// matches. An Unknown expectation matches nothing.
func (o Outcome) Matches(actual Outcome) bool {
	if o.Kind == Unknown || o.Kind != actual.Kind {
		return false
	}
	for _, f := range o.Fields {
		if !slices.Contains(actual.Fields, f) {
			return false
		}
	}
	return true
}

// String renders the text form accepted by Parse.
func (o Outcome) String() string {
	if o.Kind == ValidationFailure && len(o.Fields) > 0 {
		return "validation:" + strings.Join(o.Fields, ",")
	}
	return o.Kind.String()
}

// Parse reads "success", "credential", "validation" or
// "validation:field1,field2". Matching is case-insensitive.
func Parse(s string) (Outcome, error) {
	tag, fields, hasFields := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "success":
		if hasFields {
			break
		}
		return Succeeded(), nil
	case "credential":
		if hasFields {
			break
		}
		return Credential(), nil
	case "validation":
		if !hasFields {
			return Validation(), nil
		}
		parsed := Validation(strings.Split(fields, ",")...)
		if len(parsed.Fields) == 0 {
			return Outcome{}, fmt.Errorf("outcome %q lists no fields after ':'", s)
		}
		return parsed, nil
	}
	return Outcome{}, fmt.Errorf("unknown outcome %q (want success, credential, validation or validation:<fields>)", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	if o.Kind == Unknown {
		return nil, fmt.Errorf("cannot marshal an unknown outcome")
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
