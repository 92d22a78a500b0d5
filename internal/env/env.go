// Package env models process environment variables as a plain map with
// the operations the token expander and hasher need: snapshotting the
// live environment once, selecting variables by wildcard pattern, and
// rendering deterministic key=value lists for hash input.
package env

import (
	"crypto/sha256"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// EnvironmentVariableMap maps variable names to values.
type EnvironmentVariableMap map[string]string

// EnvironmentVariablePairs is a sorted list of "key=value" strings.
type EnvironmentVariablePairs []string

// GetEnvMap snapshots the process environment. Callers hold the snapshot
// rather than re-reading os.Environ, so one expansion pass sees one
// consistent environment.
func GetEnvMap() EnvironmentVariableMap {
	snapshot := make(EnvironmentVariableMap)
	for _, pair := range os.Environ() {
		if k, v, ok := strings.Cut(pair, "="); ok {
			snapshot[k] = v
		}
	}
	return snapshot
}

// Union merges another map into the receiver; colliding keys take the
// incoming value.
func (evm EnvironmentVariableMap) Union(other EnvironmentVariableMap) {
	for k, v := range other {
		evm[k] = v
	}
}

// Difference deletes from the receiver every key present in other.
func (evm EnvironmentVariableMap) Difference(other EnvironmentVariableMap) {
	for k := range other {
		delete(evm, k)
	}
}

// Add sets a single variable.
func (evm EnvironmentVariableMap) Add(key, value string) {
	evm[key] = value
}

// Names returns the variable names in sorted order.
func (evm EnvironmentVariableMap) Names() []string {
	names := make([]string, 0, len(evm))
	for k := range evm {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// pairs renders the map as sorted key=value strings, with render
// controlling how each value appears.
func (evm EnvironmentVariableMap) pairs(render func(value string) string) EnvironmentVariablePairs {
	if evm == nil {
		return nil
	}
	out := make([]string, 0, len(evm))
	for _, k := range evm.Names() {
		out = append(out, k+"="+render(evm[k]))
	}
	return out
}

// ToHashable renders the map as sorted key=value pairs for hash input.
func (evm EnvironmentVariableMap) ToHashable() EnvironmentVariablePairs {
	return evm.pairs(func(v string) string { return v })
}

// ToSecretHashable renders the map like ToHashable but with every
// non-empty value replaced by its SHA-256, so hash manifests written to
// disk never embed raw secrets.
func (evm EnvironmentVariableMap) ToSecretHashable() EnvironmentVariablePairs {
	return evm.pairs(func(v string) string {
		if v == "" {
			return ""
		}
		return fmt.Sprintf("%x", sha256.Sum256([]byte(v)))
	})
}

// FromWildcards selects the variables whose names match any of the given
// patterns. A "*" in a pattern matches any run of characters; a leading
// "!" turns the pattern into an exclusion, and exclusions override
// inclusions regardless of order. A nil pattern list selects nothing and
// reports nil, distinguishing "unspecified" from "matched nothing".
func (evm EnvironmentVariableMap) FromWildcards(patterns []string) (EnvironmentVariableMap, error) {
	if patterns == nil {
		return nil, nil
	}

	var include, exclude []*regexp.Regexp
	for _, p := range patterns {
		target := &include
		if strings.HasPrefix(p, "!") {
			target = &exclude
			p = p[1:]
		}
		re, err := compileWildcard(p)
		if err != nil {
			return nil, err
		}
		*target = append(*target, re)
	}

	selected := make(EnvironmentVariableMap)
	for name, value := range evm {
		if matchesAny(include, name) && !matchesAny(exclude, name) {
			selected[name] = value
		}
	}
	return selected, nil
}

// compileWildcard translates a name pattern into an anchored regexp.
// Only "*" is special; `\*` escapes a literal asterisk.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	literal := []rune{}
	flush := func() {
		b.WriteString(regexp.QuoteMeta(string(literal)))
		literal = literal[:0]
	}
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			literal = append(literal, r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			flush()
			b.WriteString(".*")
		default:
			literal = append(literal, r)
		}
	}
	if escaped {
		literal = append(literal, '\\')
	}
	flush()
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func matchesAny(res []*regexp.Regexp, name string) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
