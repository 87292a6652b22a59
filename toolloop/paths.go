package toolloop

import (
	"errors"
	"path/filepath"
	"strings"
)

var errNoCoordinator = errors.New("toolloop: sandbox backend configured without a Coordinator")

// normalizeSandboxDir resolves a tool-supplied directory argument against
// config's sandbox workspace root. Tools receive paths the planner wrote
// against whatever root it last saw (the sandbox-prefixed absolute path, or
// a path relative to that root); both resolve to the same place inside the
// sandbox.
func normalizeSandboxDir(dir string, config Config) string {
	if dir == "" {
		return config.SandboxRoot
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(config.SandboxRoot, dir)
}

// toSandboxPath rewrites a path the caller wrote relative to a local
// checkout into the equivalent absolute path inside the sandbox workspace.
func toSandboxPath(path string, config Config) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(config.SandboxRoot, path)
}

// fromSandboxPath strips the sandbox workspace root prefix from path,
// returning a path relative to it. Paths outside the root are returned
// unchanged, since tools occasionally report absolute paths outside the
// checkout (e.g. a temp file).
func fromSandboxPath(path string, config Config) string {
	root := strings.TrimSuffix(config.SandboxRoot, "/")
	if root == "" || !strings.HasPrefix(path, root+"/") {
		return path
	}
	return strings.TrimPrefix(path, root+"/")
}

// normalizeLocalDir mirrors normalizeSandboxDir for the local backend,
// resolving against config.WorkDir instead of a sandbox root.
func normalizeLocalDir(dir string, config Config) string {
	if dir == "" {
		return config.WorkDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(config.WorkDir, dir)
}
