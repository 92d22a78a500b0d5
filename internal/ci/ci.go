// Package ci detects whether the current process is running under a CI
// service, and which one. Detection is env-var based: most services set
// a service-specific marker variable, and nearly all set CI=true. The
// vendor name only feeds log and error messages, so the table sticks to
// services actually seen in the wild rather than chasing completeness.
package ci

import "os"

// Vendor describes one CI service and the environment marker that
// identifies it. When Value is set, the marker variable must carry that
// exact value; otherwise any non-empty value counts.
type Vendor struct {
	Name     string
	Constant string
	Env      string
	Value    string
}

// vendors is ordered: services that impersonate others (e.g. anything
// re-exporting CI=true) come after the specific markers.
var vendors = []Vendor{
	{Name: "GitHub Actions", Constant: "GITHUB_ACTIONS", Env: "GITHUB_ACTIONS"},
	{Name: "GitLab CI", Constant: "GITLAB", Env: "GITLAB_CI"},
	{Name: "CircleCI", Constant: "CIRCLE", Env: "CIRCLECI"},
	{Name: "Buildkite", Constant: "BUILDKITE", Env: "BUILDKITE"},
	{Name: "Jenkins", Constant: "JENKINS", Env: "JENKINS_URL"},
	{Name: "Travis CI", Constant: "TRAVIS", Env: "TRAVIS"},
	{Name: "AppVeyor", Constant: "APPVEYOR", Env: "APPVEYOR"},
	{Name: "Azure Pipelines", Constant: "AZURE_PIPELINES", Env: "TF_BUILD"},
	{Name: "Bitbucket Pipelines", Constant: "BITBUCKET", Env: "BITBUCKET_COMMIT"},
	{Name: "Drone", Constant: "DRONE", Env: "DRONE"},
	{Name: "TeamCity", Constant: "TEAMCITY", Env: "TEAMCITY_VERSION"},
	{Name: "AWS CodeBuild", Constant: "CODEBUILD", Env: "CODEBUILD_BUILD_ARN"},
	{Name: "Google Cloud Build", Constant: "CLOUD_BUILD", Env: "BUILDER_OUTPUT"},
	{Name: "Vercel", Constant: "VERCEL", Env: "VERCEL", Value: "1"},
	{Name: "Netlify CI", Constant: "NETLIFY", Env: "NETLIFY", Value: "true"},
	{Name: "Woodpecker", Constant: "WOODPECKER", Env: "CI", Value: "woodpecker"},
}

// genericMarkers are set by many services without identifying one.
var genericMarkers = []string{
	"CI", "CONTINUOUS_INTEGRATION", "BUILD_ID", "BUILD_NUMBER", "CI_NAME", "RUN_ID",
}

func (v Vendor) matches() bool {
	got, set := os.LookupEnv(v.Env)
	if !set || got == "" {
		return false
	}
	return v.Value == "" || got == v.Value
}

// Info identifies the running CI service, or a zero Vendor when none
// matches.
func Info() Vendor {
	for _, v := range vendors {
		if v.matches() {
			return v
		}
	}
	return Vendor{}
}

// IsCi reports whether the process appears to be running under CI at
// all, identified vendor or not.
func IsCi() bool {
	if Info().Name != "" {
		return true
	}
	for _, marker := range genericMarkers {
		if os.Getenv(marker) != "" {
			return true
		}
	}
	return false
}

// Name returns the detected vendor's display name, or "" outside CI.
func Name() string {
	return Info().Name
}

// Constant returns the detected vendor's constant-style identifier.
func Constant() string {
	return Info().Constant
}
