package env

import (
	"reflect"
	"testing"
)

func TestUnionOverwrites(t *testing.T) {
	evm := EnvironmentVariableMap{"A": "1", "B": "2"}
	evm.Union(EnvironmentVariableMap{"B": "3", "C": "4"})

	want := EnvironmentVariableMap{"A": "1", "B": "3", "C": "4"}
	if !reflect.DeepEqual(evm, want) {
		t.Errorf("Union() = %v, want %v", evm, want)
	}
}

func TestDifferenceRemovesMatchingKeys(t *testing.T) {
	evm := EnvironmentVariableMap{"A": "1", "B": "2", "C": "3"}
	evm.Difference(EnvironmentVariableMap{"B": "ignored", "D": "ignored"})

	want := EnvironmentVariableMap{"A": "1", "C": "3"}
	if !reflect.DeepEqual(evm, want) {
		t.Errorf("Difference() = %v, want %v", evm, want)
	}
}

func TestNamesAreSorted(t *testing.T) {
	evm := EnvironmentVariableMap{"ZETA": "", "ALPHA": "", "MID": ""}
	want := []string{"ALPHA", "MID", "ZETA"}
	if got := evm.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestToHashableIsDeterministic(t *testing.T) {
	evm := EnvironmentVariableMap{"B": "2", "A": "1"}
	want := EnvironmentVariablePairs{"A=1", "B=2"}
	if got := evm.ToHashable(); !reflect.DeepEqual(got, want) {
		t.Errorf("ToHashable() = %v, want %v", got, want)
	}
}

func TestToSecretHashableHashesValues(t *testing.T) {
	evm := EnvironmentVariableMap{"SECRET": "hunter2", "EMPTY": ""}
	got := evm.ToSecretHashable()

	if len(got) != 2 {
		t.Fatalf("ToSecretHashable() returned %d pairs, want 2", len(got))
	}
	if got[0] != "EMPTY=" {
		t.Errorf("empty value should stay empty, got %q", got[0])
	}
	if got[1] == "SECRET=hunter2" {
		t.Errorf("non-empty value should be hashed, got %q", got[1])
	}
}

func TestFromWildcards(t *testing.T) {
	evm := EnvironmentVariableMap{
		"MOON_CACHE":       "read-write",
		"MOON_CONCURRENCY": "4",
		"MOON_LOG":         "debug",
		"PATH":             "/usr/bin",
		"VITE_API_URL":     "https://example.test",
	}

	tests := []struct {
		name     string
		patterns []string
		want     EnvironmentVariableMap
	}{
		{
			name:     "nil patterns yield nil",
			patterns: nil,
			want:     nil,
		},
		{
			name:     "prefix wildcard",
			patterns: []string{"MOON_*"},
			want: EnvironmentVariableMap{
				"MOON_CACHE":       "read-write",
				"MOON_CONCURRENCY": "4",
				"MOON_LOG":         "debug",
			},
		},
		{
			name:     "literal name",
			patterns: []string{"PATH"},
			want:     EnvironmentVariableMap{"PATH": "/usr/bin"},
		},
		{
			name:     "exclusion wins over inclusion",
			patterns: []string{"MOON_*", "!MOON_LOG"},
			want: EnvironmentVariableMap{
				"MOON_CACHE":       "read-write",
				"MOON_CONCURRENCY": "4",
			},
		},
		{
			name:     "no match yields empty map",
			patterns: []string{"NOPE_*"},
			want:     EnvironmentVariableMap{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evm.FromWildcards(tt.patterns)
			if err != nil {
				t.Fatalf("FromWildcards(%v) error: %v", tt.patterns, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FromWildcards(%v) = %v, want %v", tt.patterns, got, tt.want)
			}
		})
	}
}

func TestCompileWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{pattern: "MOON_*", name: "MOON_CACHE", want: true},
		{pattern: "MOON_*", name: "NOT_MOON", want: false},
		{pattern: "*_SUFFIX", name: "ANY_SUFFIX", want: true},
		{pattern: "NO_WILDCARD", name: "NO_WILDCARD", want: true},
		{pattern: "NO_WILDCARD", name: "NO_WILDCARD_MORE", want: false},
		{pattern: `FOO\*`, name: "FOO*", want: true},
		{pattern: `FOO\*`, name: "FOOX", want: false},
	}
	for _, tt := range tests {
		re, err := compileWildcard(tt.pattern)
		if err != nil {
			t.Fatalf("compileWildcard(%q): %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.name); got != tt.want {
			t.Errorf("pattern %q against %q = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
