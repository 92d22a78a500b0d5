package command

import (
	"testing"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/target"
	"github.com/moonrepo/moon/internal/toolchainadapter"
)

func TestBuildInjectsStandardEnv(t *testing.T) {
	p := project.New(id.MustNew("app"), "apps/app", "/repo/apps/app")
	task := project.Task{
		Target:  target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: id.MustNew("build")},
		Command: []string{"noop"},
		Options: project.TaskOptions{Shell: true},
	}
	tc := &toolchainadapter.Node{Id: id.MustNew("node"), PackageManager: "npm"}

	built, err := Build(p, task, tc, BuildOptions{WorkspaceRoot: "/repo", CacheDir: "/repo/.moon/cache"})
	if err != nil {
		t.Fatal(err)
	}
	if built.WorkingDir != p.Root {
		t.Errorf("expected project root as working dir, got %s", built.WorkingDir)
	}
	for _, key := range []string{"MOON_PROJECT_ID", "MOON_PROJECT_ROOT", "MOON_WORKSPACE_ROOT", "MOON_TARGET", "PWD"} {
		if _, ok := built.Env[key]; !ok {
			t.Errorf("expected env %s to be set", key)
		}
	}
	if built.Env["MOON_PROJECT_ID"] != "app" {
		t.Errorf("got %s", built.Env["MOON_PROJECT_ID"])
	}
}

func TestBuildRunFromWorkspaceRoot(t *testing.T) {
	p := project.New(id.MustNew("app"), "apps/app", "/repo/apps/app")
	task := project.Task{
		Target:  target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: id.MustNew("build")},
		Command: []string{"noop"},
		Options: project.TaskOptions{RunFromWorkspaceRoot: true},
	}
	tc := &toolchainadapter.Node{Id: id.MustNew("node"), PackageManager: "npm"}

	built, err := Build(p, task, tc, BuildOptions{WorkspaceRoot: "/repo"})
	if err != nil {
		t.Fatal(err)
	}
	if built.WorkingDir != "/repo" {
		t.Errorf("expected workspace root as working dir, got %s", built.WorkingDir)
	}
}

func TestBuildAffectedFilesDefaultsToDot(t *testing.T) {
	p := project.New(id.MustNew("app"), "apps/app", "/repo/apps/app")
	task := project.Task{
		Target:  target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: id.MustNew("lint")},
		Command: []string{"noop"},
		Options: project.TaskOptions{AffectedFiles: true},
	}
	tc := &toolchainadapter.Node{Id: id.MustNew("node"), PackageManager: "npm"}

	built, err := Build(p, task, tc, BuildOptions{WorkspaceRoot: "/repo"})
	if err != nil {
		t.Fatal(err)
	}
	if built.Env["MOON_AFFECTED_FILES"] != "." {
		t.Errorf("expected '.' fallback, got %q", built.Env["MOON_AFFECTED_FILES"])
	}

	built, err = Build(p, task, tc, BuildOptions{WorkspaceRoot: "/repo", AffectedFiles: []string{"b.ts", "a.ts"}})
	if err != nil {
		t.Fatal(err)
	}
	if built.Env["MOON_AFFECTED_FILES"] != "a.ts,b.ts" {
		t.Errorf("expected sorted affected files, got %q", built.Env["MOON_AFFECTED_FILES"])
	}
}
