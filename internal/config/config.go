// Package config loads the workspace-root and per-project configuration
// files (workspace.yml, toolchain.yml, tasks.yml + tasks/<scope>.yml,
// moon.yml) and resolves task inheritance by (platform, language, type,
// tags).
package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// RawCommand normalizes the untagged "command: string | []string" shape
// at load time so downstream code sees one shape.
type RawCommand []string

// UnmarshalYAML implements the untagged-variant parse: a bare scalar
// becomes a one-element list, a sequence is taken as-is.
func (c *RawCommand) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = RawCommand{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = RawCommand(list)
		return nil
	default:
		return errors.New("config: command must be a string or list of strings")
	}
}

// RawDep is a dependency entry, which may be a bare target string or an
// object form carrying args/env/optional.
type RawDep struct {
	Target   string            `yaml:"-"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Optional bool              `yaml:"optional,omitempty"`
}

// UnmarshalYAML accepts either "project:task" or
// "{ target: project:task, args: [...], optional: true }".
func (d *RawDep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		d.Target = s
		return nil
	}
	var a struct {
		Target   string            `yaml:"target"`
		Args     []string          `yaml:"args"`
		Env      map[string]string `yaml:"env"`
		Optional bool              `yaml:"optional"`
	}
	if err := value.Decode(&a); err != nil {
		return err
	}
	d.Target = a.Target
	d.Args = a.Args
	d.Env = a.Env
	d.Optional = a.Optional
	return nil
}

// RawTaskOptions is the raw task options block as written in config.
type RawTaskOptions struct {
	Cache                *bool  `yaml:"cache,omitempty"`
	RetryCount           *int   `yaml:"retryCount,omitempty"`
	RunFromWorkspaceRoot bool   `yaml:"runFromWorkspaceRoot,omitempty"`
	AffectedFiles        bool   `yaml:"affectedFiles,omitempty"`
	Shell                *bool  `yaml:"shell,omitempty"`
	OutputStyle          string `yaml:"outputStyle,omitempty"`
	Persistent           bool   `yaml:"persistent,omitempty"`
	Interactive          bool   `yaml:"interactive,omitempty"`
	// RunInCI is the task's runInCI setting; nil means true. It is carried
	// through to project.TaskOptions.RunInCI, but the Action Graph Builder
	// does not read it, so the `ci` verb's RunRequirements.CICheck does not
	// skip a task that sets it to false.
	RunInCI *bool `yaml:"runInCI,omitempty"`
	// Local is the deprecated legacy flag: the task expander treats it as
	// Persistent=true and, unless Cache is set explicitly, Cache=false.
	// Preset is not consulted when resolving it.
	Local bool `yaml:"local,omitempty"`
}

// RawTask is one task entry as it appears in tasks.yml/moon.yml, before
// inheritance merge and token expansion.
type RawTask struct {
	Command    RawCommand        `yaml:"command,omitempty"`
	Script     string            `yaml:"script,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Deps       []RawDep          `yaml:"deps,omitempty"`
	Inputs     *[]string         `yaml:"inputs,omitempty"` // nil means "all project files" (invariant 3)
	Outputs    []string          `yaml:"outputs,omitempty"`
	Toolchains []string          `yaml:"toolchains,omitempty"`
	Options    RawTaskOptions    `yaml:"options,omitempty"`
	Preset     string            `yaml:"preset,omitempty"`
	Type       string            `yaml:"type,omitempty"` // "build" | "run" | "test"
}

// TaskConfigMap is a project or tasks-layer map of task id -> RawTask.
type TaskConfigMap map[string]RawTask

// WorkspaceConfig is the parsed workspace.yml.
type WorkspaceConfig struct {
	Projects     map[string]string `yaml:"projects,omitempty"` // explicit id -> source dir
	ProjectGlobs []string          `yaml:"projectGlobs,omitempty"`
	VCS          struct {
		Manager       string `yaml:"manager,omitempty"`
		DefaultBranch string `yaml:"defaultBranch,omitempty"`
	} `yaml:"vcs,omitempty"`
	Runner struct {
		CacheMode   string `yaml:"cacheMode,omitempty"`
		Concurrency int    `yaml:"concurrency,omitempty"`
	} `yaml:"runner,omitempty"`
	Hasher struct {
		WarnOnMissingInputs bool `yaml:"warnOnMissingInputs,omitempty"`
	} `yaml:"hasher,omitempty"`
}

// ToolchainConfig is the parsed toolchain.yml.
type ToolchainConfig struct {
	Plugins map[string]struct {
		Plugin  string            `yaml:"plugin"`
		Version string            `yaml:"version,omitempty"`
		Config  map[string]string `yaml:"config,omitempty"`
	} `yaml:"plugins,omitempty"`
}

// ProjectConfig is the parsed moon.yml for a single project.
type ProjectConfig struct {
	Language   string                    `yaml:"language,omitempty"`
	Layer      string                    `yaml:"layer,omitempty"`
	Stack      string                    `yaml:"stack,omitempty"`
	Tags       []string                  `yaml:"tags,omitempty"`
	DependsOn  []ProjectDependencyConfig `yaml:"dependsOn,omitempty"`
	FileGroups map[string][]string       `yaml:"fileGroups,omitempty"`
	Tasks      TaskConfigMap             `yaml:"tasks,omitempty"`
	Toolchains []string                  `yaml:"toolchains,omitempty"`
}

// ProjectDependencyConfig is one entry of moon.yml's dependsOn.
type ProjectDependencyConfig struct {
	Id    string `yaml:"-"`
	Scope string `yaml:"scope,omitempty"` // production|development|peer|build|root
}

// UnmarshalYAML accepts either a bare id string or "{ id: foo, scope: peer }".
func (d *ProjectDependencyConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		d.Id = s
		d.Scope = "production"
		return nil
	}
	var a struct {
		Id    string `yaml:"id"`
		Scope string `yaml:"scope"`
	}
	if err := value.Decode(&a); err != nil {
		return err
	}
	d.Id = a.Id
	d.Scope = a.Scope
	return nil
}

// InheritanceChain computes the lookup chain used to resolve tasks.yml
// layers for a project:
// ["*", platform, language, platform-type, language-type, tag-<tag>...].
func InheritanceChain(platform, language, taskType string, tags []string) []string {
	chain := []string{"*"}
	if platform != "" {
		chain = append(chain, platform)
	}
	if language != "" {
		chain = append(chain, language)
	}
	if platform != "" && taskType != "" {
		chain = append(chain, platform+"-"+taskType)
	}
	if language != "" && taskType != "" {
		chain = append(chain, language+"-"+taskType)
	}
	sortedTags := append([]string(nil), tags...)
	sort.Strings(sortedTags)
	for _, tag := range sortedTags {
		chain = append(chain, "tag-"+tag)
	}
	return chain
}

// Loader reads config files from a workspace root.
type Loader struct {
	root string
}

// NewLoader constructs a Loader rooted at workspaceRoot.
func NewLoader(workspaceRoot string) *Loader {
	return &Loader{root: workspaceRoot}
}

func (l *Loader) readYAML(relPath string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(l.root, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return errors.Wrapf(err, "config: reading %s", relPath)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "config: parsing %s", relPath)
	}
	return nil
}

// LoadWorkspace loads ".moon/workspace.yml".
func (l *Loader) LoadWorkspace() (*WorkspaceConfig, error) {
	cfg := &WorkspaceConfig{}
	if err := l.readYAML(filepath.Join(".moon", "workspace.yml"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadToolchain loads ".moon/toolchain.yml".
func (l *Loader) LoadToolchain() (*ToolchainConfig, error) {
	cfg := &ToolchainConfig{}
	if err := l.readYAML(filepath.Join(".moon", "toolchain.yml"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTasksLayer loads one layer of the inherited tasks config: either
// ".moon/tasks.yml" (scope == "") or ".moon/tasks/<scope>.yml".
// Missing layers are not an error: most projects only populate a handful
// of the chain's entries.
func (l *Loader) LoadTasksLayer(scope string) (TaskConfigMap, error) {
	var relPath string
	if scope == "" || scope == "*" {
		relPath = filepath.Join(".moon", "tasks.yml")
	} else {
		relPath = filepath.Join(".moon", "tasks", scope+".yml")
	}

	var wrapper struct {
		Tasks TaskConfigMap `yaml:"tasks,omitempty"`
	}
	if err := l.readYAML(relPath, &wrapper); err != nil {
		if os.IsNotExist(err) {
			return TaskConfigMap{}, nil
		}
		return nil, err
	}
	return wrapper.Tasks, nil
}

// LoadProject loads "<projectSource>/moon.yml".
func (l *Loader) LoadProject(projectSource string) (*ProjectConfig, error) {
	cfg := &ProjectConfig{}
	if err := l.readYAML(filepath.Join(projectSource, "moon.yml"), cfg); err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// MergeTaskLayer merges a higher-precedence task definition onto a
// lower-precedence base: later layers in the inheritance chain win field by
// field, not wholesale (a later layer that only sets `env` does not erase
// the base's `command`).
func MergeTaskLayer(base, overlay RawTask) RawTask {
	merged := base

	if len(overlay.Command) > 0 {
		merged.Command = overlay.Command
		merged.Script = "" // command/script are mutually exclusive per-layer
	}
	if overlay.Script != "" {
		merged.Script = overlay.Script
		merged.Command = nil
	}
	if len(overlay.Args) > 0 {
		merged.Args = overlay.Args
	}
	if len(overlay.Env) > 0 {
		merged.Env = mergeStringMaps(merged.Env, overlay.Env)
	}
	if len(overlay.Deps) > 0 {
		merged.Deps = append(append([]RawDep(nil), merged.Deps...), overlay.Deps...)
	}
	if overlay.Inputs != nil {
		merged.Inputs = overlay.Inputs
	}
	if len(overlay.Outputs) > 0 {
		merged.Outputs = overlay.Outputs
	}
	if len(overlay.Toolchains) > 0 {
		merged.Toolchains = overlay.Toolchains
	}
	if overlay.Preset != "" {
		merged.Preset = overlay.Preset
	}
	if overlay.Type != "" {
		merged.Type = overlay.Type
	}
	merged.Options = mergeOptions(merged.Options, overlay.Options)

	return merged
}

func mergeStringMaps(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mergeOptions(base, overlay RawTaskOptions) RawTaskOptions {
	merged := base
	if overlay.Cache != nil {
		merged.Cache = overlay.Cache
	}
	if overlay.RetryCount != nil {
		merged.RetryCount = overlay.RetryCount
	}
	if overlay.RunFromWorkspaceRoot {
		merged.RunFromWorkspaceRoot = true
	}
	if overlay.AffectedFiles {
		merged.AffectedFiles = true
	}
	if overlay.Shell != nil {
		merged.Shell = overlay.Shell
	}
	if overlay.OutputStyle != "" {
		merged.OutputStyle = overlay.OutputStyle
	}
	if overlay.Persistent {
		merged.Persistent = true
	}
	if overlay.Interactive {
		merged.Interactive = true
	}
	if overlay.RunInCI != nil {
		merged.RunInCI = overlay.RunInCI
	}
	if overlay.Local {
		merged.Local = true
	}
	return merged
}

// DecodeLoose decodes a loosely-typed map (e.g. from an env-var overlay via
// viper) into a typed config struct.
func DecodeLoose(in map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "yaml",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// EnvOverlay is the set of MOON_* env vars that take precedence over
// workspace.yml: cache mode, concurrency, log level, and an
// override for where the workspace root is found.
type EnvOverlay struct {
	Cache         string
	Concurrency   int
	Log           string
	WorkspaceRoot string
}

// LoadEnvOverlay binds the MOON_* process env vars via viper; env takes
// precedence over file config.
// Unset vars leave their EnvOverlay field at its zero value so callers can
// tell "not set" from "set to the zero value".
func LoadEnvOverlay() EnvOverlay {
	v := viper.New()
	v.SetEnvPrefix("moon")
	v.AutomaticEnv()
	_ = v.BindEnv("cache")
	_ = v.BindEnv("concurrency")
	_ = v.BindEnv("log")
	_ = v.BindEnv("workspace_root")

	return EnvOverlay{
		Cache:         v.GetString("cache"),
		Concurrency:   v.GetInt("concurrency"),
		Log:           v.GetString("log"),
		WorkspaceRoot: v.GetString("workspace_root"),
	}
}

// ApplyEnvOverlay layers o onto a WorkspaceConfig's runner/cache settings,
// an env-set field always winning over the file value.
func ApplyEnvOverlay(wc *WorkspaceConfig, o EnvOverlay) {
	if o.Cache != "" {
		wc.Runner.CacheMode = o.Cache
	}
	if o.Concurrency != 0 {
		wc.Runner.Concurrency = o.Concurrency
	}
}
