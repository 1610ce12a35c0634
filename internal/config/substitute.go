// Package config implements the environment-variable substitution grammar
// used when turning declarative plugin configuration into concrete values
// (spec section 4.2): "${NAME}" (fail if unset) and "${NAME:-default}"
// (substitute default). Substitution runs over the whole configuration
// tree before it reaches a plugin descriptor's build function, mirroring
// the teacher's EnvConfig (config/config.go) in spirit: small, dependency
// free, and driven by an injectable Lookup (OSLookup reads the real
// process environment via os.LookupEnv).
package config

import (
	"fmt"
	"os"
	"regexp"
)

var substitutionPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Lookup abstracts the environment variable source, allowing tests to
// substitute a fake without touching the process environment.
type Lookup func(name string) (string, bool)

// OSLookup reads from the real process environment.
func OSLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Substitute expands every "${NAME}" and "${NAME:-default}" occurrence in
// s using lookup. A bare "${NAME}" with no default and no value set is an
// error; "${NAME:-default}" never fails.
func Substitute(s string, lookup Lookup) (string, error) {
	var firstErr error
	result := substitutionPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := substitutionPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]

		if value, ok := lookup(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("config: environment variable %q is not set", name)
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// SubstituteTree walks a map-of-maps configuration tree (as produced by
// YAML/JSON decoding into map[string]any) and substitutes every string
// leaf in place, returning an error naming the first failing key path.
func SubstituteTree(tree map[string]any, lookup Lookup) error {
	return substituteValue(tree, "", lookup)
}

func substituteValue(v any, path string, lookup Lookup) error {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			switch c := child.(type) {
			case string:
				expanded, err := Substitute(c, lookup)
				if err != nil {
					return fmt.Errorf("%s: %w", childPath, err)
				}
				val[k] = expanded
			default:
				if err := substituteValue(c, childPath, lookup); err != nil {
					return err
				}
			}
		}
	case []any:
		for i, item := range val {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			switch c := item.(type) {
			case string:
				expanded, err := Substitute(c, lookup)
				if err != nil {
					return fmt.Errorf("%s: %w", itemPath, err)
				}
				val[i] = expanded
			default:
				if err := substituteValue(c, itemPath, lookup); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
