package policy

import (
	"fmt"
	"strings"
)

// Toggle is a three state switch that either forces a setting or defers to
// the global default.
type Toggle int

const (
	UseDefault Toggle = iota
	Yes
	No
)

// Resolve returns the effective value of t given the global default.
func (t Toggle) Resolve(defaultValue bool) bool {
	switch t {
	case Yes:
		return true
	case No:
		return false
	default:
		return defaultValue
	}
}

// Explicit reports whether t overrides the default.
func (t Toggle) Explicit() bool {
	return t == Yes || t == No
}

func (t Toggle) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "use_default"
	}
}

// ParseToggle accepts "use_default", "yes" and "no", plus the route config
// spellings "", "enable" and "disable".
func ParseToggle(s string) (Toggle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "use_default", "default", "inherit":
		return UseDefault, nil
	case "yes", "enable", "true", "on":
		return Yes, nil
	case "no", "disable", "false", "off":
		return No, nil
	default:
		return UseDefault, fmt.Errorf("invalid toggle %q: expected use_default, yes or no", s)
	}
}

func (t Toggle) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Toggle) UnmarshalText(text []byte) error {
	parsed, err := ParseToggle(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
