package browser

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy selects how a Locator value is interpreted.
type Strategy string

const (
	ByName  Strategy = "name"
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Locator addresses elements on a page. The value is opaque to the engine;
// resolving it is the driver's job.
type Locator struct {
	By    Strategy `yaml:"by" json:"by"`
	Value string   `yaml:"value" json:"value"`
}

func Name(v string) Locator  { return Locator{By: ByName, Value: v} }
func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.By == "" && l.Value == "" }

func (l Locator) String() string { return string(l.By) + "=" + l.Value }

// Validate checks the strategy is known and the value non-empty.
func (l Locator) Validate() error {
	switch l.By {
	case ByName, ByCSS, ByXPath:
	default:
		return fmt.Errorf("unknown locator strategy %q", l.By)
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("locator %q has an empty value", l.By)
	}
	return nil
}

// CSSSelector renders name and CSS locators as a CSS selector. XPath
// locators have no CSS form.
func (l Locator) CSSSelector() (string, bool) {
	switch l.By {
	case ByName:
		return "[name=" + strconv.Quote(l.Value) + "]", true
	case ByCSS:
		return l.Value, true
	default:
		return "", false
	}
}

// ParseLocator parses the "strategy=value" form produced by String.
func ParseLocator(s string) (Locator, error) {
	by, value, ok := strings.Cut(s, "=")
	if !ok {
		return Locator{}, fmt.Errorf("locator %q is not of the form strategy=value", s)
	}
	loc := Locator{By: Strategy(strings.ToLower(strings.TrimSpace(by))), Value: value}
	if err := loc.Validate(); err != nil {
		return Locator{}, err
	}
	return loc, nil
}

// UnmarshalYAML accepts both the {by, value} mapping and the "by=value"
// shorthand used in scenario tables.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		loc, err := ParseLocator(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*l = loc
		return nil
	}
	type plain Locator
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Locator(p)
	return nil
}
