// Package id implements the interned, case-preserving identifier type used
// throughout the action pipeline for projects, task segments, toolchains,
// and tags.
package id

import (
	"fmt"
	"regexp"
)

// pattern matches the restricted identifier charset, plus the dotted form
// used for grouped ids (e.g. "node.v18", "tag.frontend").
var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// Id is an opaque, case-preserving identifier.
type Id string

// New validates and constructs an Id. It is the only way to obtain a value
// of this type outside the package, so every Id in the system is known to
// satisfy the non-empty/charset invariant.
func New(raw string) (Id, error) {
	if raw == "" {
		return "", fmt.Errorf("id: must not be empty")
	}
	if !pattern.MatchString(raw) {
		return "", fmt.Errorf("id: %q contains characters outside [A-Za-z0-9_-] (dotted variants allowed)", raw)
	}
	return Id(raw), nil
}

// MustNew panics on an invalid id. Reserved for compile-time-known constants
// (tests, hardcoded scope names), never for user-provided config.
func MustNew(raw string) Id {
	parsed, err := New(raw)
	if err != nil {
		panic(err)
	}
	return parsed
}

// String implements fmt.Stringer.
func (i Id) String() string {
	return string(i)
}

// Registry interns Ids so that repeated equal strings across a load share
// one underlying value and so callers can ask "have we seen this id
// before" without re-validating it.
//
// This is a plain map behind a New()/Lookup() pair rather than a
// concurrent structure: the registry is populated once during config load
// (single-writer), then only read during graph construction and execution.
type Registry struct {
	seen map[Id]struct{}
}

// NewRegistry creates an empty Id registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[Id]struct{})}
}

// Intern validates raw and records it in the registry, returning the Id.
func (r *Registry) Intern(raw string) (Id, error) {
	parsed, err := New(raw)
	if err != nil {
		return "", err
	}
	r.seen[parsed] = struct{}{}
	return parsed, nil
}

// Has reports whether an Id has been interned.
func (r *Registry) Has(i Id) bool {
	_, ok := r.seen[i]
	return ok
}

// All returns every interned Id. Order is unspecified; callers that need a
// stable order must sort the result themselves.
func (r *Registry) All() []Id {
	out := make([]Id, 0, len(r.seen))
	for i := range r.seen {
		out = append(out, i)
	}
	return out
}
