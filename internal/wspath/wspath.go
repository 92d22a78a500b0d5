// Package wspath implements the workspace-relative path model: a
// normalized, forward-slash path rooted at the workspace, and the tagged
// InputPath/OutputPath variants used by file groups and tasks.
package wspath

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// WorkspaceRelativePath is a normalized forward-slash path rooted at the
// workspace. It never contains a leading "/" itself (that prefix is only
// meaningful in the InputPath/OutputPath wire grammar, see below) and never
// escapes the workspace via "..".
type WorkspaceRelativePath string

// New normalizes and validates raw as a workspace-relative path.
func New(raw string) (WorkspaceRelativePath, error) {
	clean := path.Clean(filepathToSlash(raw))
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("wspath: %q escapes the workspace", raw)
	}
	if clean == "." {
		clean = ""
	}
	return WorkspaceRelativePath(clean), nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// String implements fmt.Stringer.
func (p WorkspaceRelativePath) String() string { return string(p) }

// Join appends a relative segment.
func (p WorkspaceRelativePath) Join(seg string) WorkspaceRelativePath {
	return WorkspaceRelativePath(path.Join(string(p), seg))
}

// Kind tags the classification of an InputPath/OutputPath entry.
type Kind int

const (
	// KindProjectFile is a literal file path, relative to the project.
	KindProjectFile Kind = iota
	// KindProjectGlob is a glob pattern, relative to the project.
	KindProjectGlob
	// KindWorkspaceFile is a literal file path, relative to the workspace ("/"-prefixed).
	KindWorkspaceFile
	// KindWorkspaceGlob is a glob pattern, relative to the workspace ("/"-prefixed).
	KindWorkspaceGlob
	// KindTokenFunc is an unexpanded "@func(arg)" token.
	KindTokenFunc
	// KindTokenVar is an unexpanded "$var" token.
	KindTokenVar
	// KindEnvVar is a literal environment variable name (inputs only).
	KindEnvVar
	// KindEnvVarGlob is a "PREFIX_*" environment variable glob (inputs only).
	KindEnvVarGlob
)

func (k Kind) String() string {
	switch k {
	case KindProjectFile:
		return "ProjectFile"
	case KindProjectGlob:
		return "ProjectGlob"
	case KindWorkspaceFile:
		return "WorkspaceFile"
	case KindWorkspaceGlob:
		return "WorkspaceGlob"
	case KindTokenFunc:
		return "TokenFunc"
	case KindTokenVar:
		return "TokenVar"
	case KindEnvVar:
		return "EnvVar"
	case KindEnvVarGlob:
		return "EnvVarGlob"
	default:
		return "Unknown"
	}
}

// Path is a parsed InputPath or OutputPath entry. EnvVar/EnvVarGlob are only
// legal for inputs; ParseOutput rejects them.
type Path struct {
	Kind     Kind
	Raw      string // text after any "!"; keeps a "/", "$" or "@" prefix, except env-var kinds drop "$"
	Negated  bool
	original string // the exact string this was parsed from, for String()
}

var globMeta = []byte{'*', '{', '}', '[', ']', '?'}

func looksLikeGlob(s string) bool {
	for _, c := range globMeta {
		if strings.IndexByte(s, c) >= 0 {
			return true
		}
	}
	return false
}

// parse handles the shared grammar: leading "!" negation, "/"-prefix for
// workspace-relative, "$"/"@" token forms, and glob-metachar classification.
// allowEnv gates KindEnvVar/KindEnvVarGlob (inputs only).
func parse(raw string, allowEnv bool) (Path, error) {
	if raw == "" {
		return Path{}, fmt.Errorf("wspath: empty path entry")
	}
	original := raw
	negated := false
	if strings.HasPrefix(raw, "!") {
		negated = true
		raw = raw[1:]
	}
	if raw == "" {
		return Path{}, fmt.Errorf("wspath: %q has no content after negation", original)
	}

	switch {
	case strings.HasPrefix(raw, "@"):
		if !strings.HasSuffix(raw, ")") || !strings.Contains(raw, "(") {
			return Path{}, fmt.Errorf("wspath: malformed token function %q", raw)
		}
		return Path{Kind: KindTokenFunc, Raw: raw, Negated: negated, original: original}, nil

	case strings.HasPrefix(raw, "$"):
		body := raw[1:]
		if allowEnv && looksLikeGlob(body) {
			return Path{Kind: KindEnvVarGlob, Raw: body, Negated: negated, original: original}, nil
		}
		if allowEnv {
			return Path{Kind: KindEnvVar, Raw: body, Negated: negated, original: original}, nil
		}
		return Path{Kind: KindTokenVar, Raw: raw, Negated: negated, original: original}, nil

	case strings.HasPrefix(raw, "/"):
		kind := KindWorkspaceFile
		if looksLikeGlob(raw) {
			kind = KindWorkspaceGlob
		}
		return Path{Kind: kind, Raw: raw, Negated: negated, original: original}, nil

	default:
		kind := KindProjectFile
		if looksLikeGlob(raw) {
			kind = KindProjectGlob
		}
		return Path{Kind: kind, Raw: raw, Negated: negated, original: original}, nil
	}
}

// ParseInput parses an InputPath entry (every kind except KindTokenVar: a
// "$" entry is read as an env var name).
func ParseInput(raw string) (Path, error) {
	return parse(raw, true)
}

// ParseOutput parses an OutputPath entry. EnvVar/EnvVarGlob are not legal
// output kinds.
func ParseOutput(raw string) (Path, error) {
	p, err := parse(raw, false)
	if err != nil {
		return Path{}, err
	}
	if p.Kind == KindEnvVar || p.Kind == KindEnvVarGlob {
		return Path{}, fmt.Errorf("wspath: %q is not a legal output (env vars are inputs-only)", raw)
	}
	return p, nil
}

// String renders the path back to its original wire form.
// Invariant: ParseInput(s).String() == s for every accepted form.
func (p Path) String() string {
	return p.original
}

// Glob compiles the underlying pattern for matching. Only valid for
// *Glob kinds.
func (p Path) Glob() (glob.Glob, error) {
	switch p.Kind {
	case KindProjectGlob:
		return glob.Compile(p.Raw, '/')
	case KindWorkspaceGlob:
		return glob.Compile(strings.TrimPrefix(p.Raw, "/"), '/')
	case KindEnvVarGlob:
		return glob.Compile(p.Raw)
	default:
		return nil, fmt.Errorf("wspath: %q is not a glob kind", p.Raw)
	}
}

// IsGlob reports whether this path entry requires expansion against the
// filesystem (or environment) rather than being a literal reference.
func (p Path) IsGlob() bool {
	switch p.Kind {
	case KindProjectGlob, KindWorkspaceGlob, KindEnvVarGlob:
		return true
	default:
		return false
	}
}

// IsToken reports whether this path entry still needs token expansion
// before it can be classified as a file or glob.
func (p Path) IsToken() bool {
	return p.Kind == KindTokenFunc || p.Kind == KindTokenVar
}

// IsWorkspaceRelative reports whether the path is anchored at the workspace
// root rather than the owning project.
func (p Path) IsWorkspaceRelative() bool {
	return p.Kind == KindWorkspaceFile || p.Kind == KindWorkspaceGlob
}

// AsDirGlob rewrites a literal directory path into a recursive glob, per
// the task-expansion invariant "directory entries are rewritten to
// <dir>/**/* before hashing".
func AsDirGlob(dir WorkspaceRelativePath) Path {
	raw := string(dir) + "/**/*"
	return Path{Kind: KindProjectGlob, Raw: raw, original: raw}
}
