// Package buildinfo holds values stamped at link time, e.g.
// -ldflags "-X autoassign/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// String formats the build for logs and the CLI.
func String() string {
	commit, built := Commit, BuiltAt
	if commit == "" {
		commit = "none"
	}
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("%s (commit=%s, built=%s)", Version, commit, built)
}
