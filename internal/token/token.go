// Package token implements the Token Expander: resolves
// `$var`, `@func(arg)`, and `$ENV`/`$PREFIX_*` placeholders embedded in
// task fields into concrete values.
package token

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/moonrepo/moon/internal/env"
	"github.com/moonrepo/moon/internal/filegroup"
	"github.com/moonrepo/moon/internal/wspath"
)

// Field names the task field context a token is being expanded within,
// since each context permits a different token subset.
type Field int

const (
	FieldCommand Field = iota
	FieldArgs
	FieldInputsOutputs
	FieldEnv
)

// UnknownFileGroup is returned when a function token references a file
// group the project does not declare.
type UnknownFileGroup struct {
	Group string
}

func (e *UnknownFileGroup) Error() string {
	return fmt.Sprintf("token: unknown file group %q", e.Group)
}

// IndexOutOfBounds is returned by @in(n)/@out(n) when n is not a valid
// index into the task's input/output file list.
type IndexOutOfBounds struct {
	Func  string
	Index int
	Len   int
}

func (e *IndexOutOfBounds) Error() string {
	return fmt.Sprintf("token: %s(%d) out of bounds (have %d entries)", e.Func, e.Index, e.Len)
}

// Vars is the set of substitutable $variables, resolved once per task
// before expansion begins.
type Vars struct {
	ProjectRoot   string
	WorkspaceRoot string
	Target        string
	ProjectSource string
	ProjectId     string
	TaskType      string
	Date          string
	Time          string
	Datetime      string
	Timestamp     string
}

func (v Vars) lookup(name string) (string, bool) {
	switch name {
	case "projectRoot":
		return v.ProjectRoot, true
	case "workspaceRoot":
		return v.WorkspaceRoot, true
	case "target":
		return v.Target, true
	case "projectSource":
		return v.ProjectSource, true
	case "projectId":
		return v.ProjectId, true
	case "taskType":
		return v.TaskType, true
	case "date":
		return v.Date, true
	case "time":
		return v.Time, true
	case "datetime":
		return v.Datetime, true
	case "timestamp":
		return v.Timestamp, true
	default:
		return "", false
	}
}

// Context bundles everything a single field-expansion call needs: the
// resolved variables, the project's declared file groups, and the
// already-expanded input/output lists (populated as expansion proceeds
// through the task expander's ordered pipeline).
type Context struct {
	Vars       Vars
	FileGroups map[string]filegroup.FileGroup
	Env        env.EnvironmentVariableMap
	Meta       map[string]string

	// InputFiles/OutputFiles back @in(n)/@out(n) bounds checks; these are
	// only populated by the time the task expander reaches the args step.
	InputFiles  []string
	OutputFiles []string
}

var varPattern = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9_]*)\b`)
var funcPattern = regexp.MustCompile(`^@([a-z]+)\(([^)]*)\)$`)

// ExpandString expands $variables within a single string value (used for
// `command`, `env` values, and literal args). Functions are not expanded
// here since they only appear as whole-token entries in list fields;
// see ExpandToken.
func ExpandString(ctx Context, field Field, s string) (string, error) {
	var expandErr error
	result := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1:]
		if value, ok := ctx.Vars.lookup(name); ok {
			return value
		}
		if field == FieldEnv {
			// env values only substitute Vars, never process-env; leave
			// unresolved $NAMES untouched.
			return match
		}
		if value, ok := ctx.Env[name]; ok {
			return value
		}
		return match
	})
	return result, expandErr
}

// ExpandToken expands one whole list-entry token (a `@func(arg)` call, a
// `$VAR`/`$PREFIX_*` env reference, or a literal/glob path) into zero or
// more concrete strings. Used for `inputs`, `outputs`, and `args` entries
// that are themselves a full token rather than embedded in a larger
// string.
func ExpandToken(ctx Context, raw string) ([]string, error) {
	if m := funcPattern.FindStringSubmatch(raw); m != nil {
		return expandFunc(ctx, m[1], m[2])
	}
	if strings.HasPrefix(raw, "$") && !strings.ContainsAny(raw, "/\\") {
		return expandEnvToken(ctx, raw)
	}
	expanded, err := ExpandString(ctx, FieldArgs, raw)
	if err != nil {
		return nil, err
	}
	return []string{expanded}, nil
}

func expandEnvToken(ctx Context, raw string) ([]string, error) {
	name := strings.TrimPrefix(raw, "$")
	if strings.Contains(name, "*") {
		matched, err := ctx.Env.FromWildcards([]string{name})
		if err != nil {
			return nil, fmt.Errorf("token: invalid env glob %q: %w", raw, err)
		}
		out := make([]string, 0, len(matched))
		for _, k := range matched.Names() {
			out = append(out, matched[k])
		}
		return out, nil
	}
	if v, ok := ctx.Env[name]; ok {
		return []string{v}, nil
	}
	return []string{""}, nil
}

func expandFunc(ctx Context, name, arg string) ([]string, error) {
	switch name {
	case "files":
		return groupPaths(ctx, arg, func(g filegroup.FileGroup) []wspath.Path { return g.Files() })
	case "dirs":
		return groupPaths(ctx, arg, func(g filegroup.FileGroup) []wspath.Path { return g.Dirs() })
	case "globs":
		return groupPaths(ctx, arg, func(g filegroup.FileGroup) []wspath.Path { return g.Globs() })
	case "group":
		return groupPaths(ctx, arg, func(g filegroup.FileGroup) []wspath.Path { return g.Paths })
	case "root":
		g, ok := ctx.FileGroups[arg]
		if !ok {
			return nil, &UnknownFileGroup{Group: arg}
		}
		return []string{g.Root()}, nil
	case "envs":
		g, ok := ctx.FileGroups[arg]
		if !ok {
			return nil, &UnknownFileGroup{Group: arg}
		}
		out := make([]string, 0, len(g.Paths))
		for _, p := range g.Paths {
			out = append(out, p.Raw)
		}
		return out, nil
	case "meta":
		v, ok := ctx.Meta[arg]
		if !ok {
			return nil, fmt.Errorf("token: @meta(%s): no such metadata key on the project", arg)
		}
		return []string{v}, nil
	case "in":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("token: @in(%s): %w", arg, err)
		}
		if idx < 0 || idx >= len(ctx.InputFiles) {
			return nil, &IndexOutOfBounds{Func: "@in", Index: idx, Len: len(ctx.InputFiles)}
		}
		return []string{ctx.InputFiles[idx]}, nil
	case "out":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("token: @out(%s): %w", arg, err)
		}
		if idx < 0 || idx >= len(ctx.OutputFiles) {
			return nil, &IndexOutOfBounds{Func: "@out", Index: idx, Len: len(ctx.OutputFiles)}
		}
		return []string{ctx.OutputFiles[idx]}, nil
	default:
		return nil, fmt.Errorf("token: unknown function @%s", name)
	}
}

func groupPaths(ctx Context, arg string, sel func(filegroup.FileGroup) []wspath.Path) ([]string, error) {
	g, ok := ctx.FileGroups[arg]
	if !ok {
		return nil, &UnknownFileGroup{Group: arg}
	}
	paths := sel(g)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.Raw)
	}
	return out, nil
}

// CompileGlob compiles a wspath.Path previously classified as a glob into
// a matcher, for use by the affected-filtering and input-resolution steps.
func CompileGlob(p wspath.Path) (glob.Glob, error) {
	return p.Glob()
}
