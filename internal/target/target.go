// Package target implements the fully-qualified task reference used to
// address work across the pipeline: a scope (which project or set of
// projects) plus a task segment, written "<scope>:<task>".
//
// The five scope forms:
//
//	app:build     a single project by id
//	^:build       every dependency of the declaring project
//	~:build       the declaring project itself
//	:build        every project in the workspace
//	#frontend:build  every project carrying the tag
//
// Values are validated at construction (Parse is the only public
// constructor besides struct literals built from already-validated Ids),
// so a Target held anywhere downstream is known to be well-formed.
package target

import (
	"fmt"
	"strings"

	"github.com/moonrepo/moon/internal/id"
)

// ScopeKind discriminates the five scope forms.
type ScopeKind int

const (
	// ScopeProject addresses a single project by id.
	ScopeProject ScopeKind = iota
	// ScopeDependencies ("^") addresses every dependency of the declaring
	// project. Only meaningful inside a task's own deps list.
	ScopeDependencies
	// ScopeSelf ("~") addresses the declaring project itself. Only
	// meaningful inside a task's own deps list.
	ScopeSelf
	// ScopeAll (":task" with an empty scope segment) addresses every
	// project that defines the task.
	ScopeAll
	// ScopeTag ("#tag") addresses every project carrying the tag.
	ScopeTag
)

// Scope is the project-addressing half of a Target. Project is set only
// for ScopeProject; Tag only for ScopeTag.
type Scope struct {
	Kind    ScopeKind
	Project id.Id
	Tag     id.Id
}

// String renders the scope segment in its canonical input form.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeProject:
		return s.Project.String()
	case ScopeDependencies:
		return "^"
	case ScopeSelf:
		return "~"
	case ScopeTag:
		return "#" + s.Tag.String()
	default: // ScopeAll
		return ""
	}
}

// Target is a scoped task reference. The zero value is not valid; obtain
// one through Parse or by building it from validated Ids.
type Target struct {
	Scope Scope
	Task  id.Id
}

// Parse parses the canonical "<scope>:<task>" form. The scope segment may
// be a project id, "^", "~", "#tag", or empty (all projects).
func Parse(raw string) (Target, error) {
	sep := strings.LastIndex(raw, ":")
	if sep < 0 {
		return Target{}, fmt.Errorf("target: %q is missing the ':' separating scope from task", raw)
	}

	task, err := id.New(raw[sep+1:])
	if err != nil {
		return Target{}, fmt.Errorf("target: %q: task segment: %w", raw, err)
	}

	scopeRaw := raw[:sep]
	switch {
	case scopeRaw == "":
		return Target{Scope: Scope{Kind: ScopeAll}, Task: task}, nil
	case scopeRaw == "^":
		return Target{Scope: Scope{Kind: ScopeDependencies}, Task: task}, nil
	case scopeRaw == "~":
		return Target{Scope: Scope{Kind: ScopeSelf}, Task: task}, nil
	case strings.HasPrefix(scopeRaw, "#"):
		tag, err := id.New(scopeRaw[1:])
		if err != nil {
			return Target{}, fmt.Errorf("target: %q: tag segment: %w", raw, err)
		}
		return Target{Scope: Scope{Kind: ScopeTag, Tag: tag}, Task: task}, nil
	default:
		proj, err := id.New(scopeRaw)
		if err != nil {
			return Target{}, fmt.Errorf("target: %q: project segment: %w", raw, err)
		}
		return Target{Scope: Scope{Kind: ScopeProject, Project: proj}, Task: task}, nil
	}
}

// ParseAsDependency parses a target appearing in a task's deps list. The
// All scope is rejected there: a dependency on ":task" would make every
// project in the workspace an implicit upstream of the declaring task.
func ParseAsDependency(raw string) (Target, error) {
	t, err := Parse(raw)
	if err != nil {
		return Target{}, err
	}
	if t.Scope.Kind == ScopeAll {
		return Target{}, fmt.Errorf("target: %q: the all-projects scope is not a legal task dependency", raw)
	}
	return t, nil
}

// String renders the canonical "<scope>:<task>" form, round-tripping
// through Parse.
func (t Target) String() string {
	return t.Scope.String() + ":" + t.Task.String()
}
