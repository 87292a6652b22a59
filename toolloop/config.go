package toolloop

import (
	"time"

	"github.com/swe-orchestrator/core/sandbox"
)

// Backend selects where a tool's side effects actually run.
type Backend string

const (
	// BackendLocal runs tools as subprocesses on the orchestrator host,
	// rooted at WorkDir.
	BackendLocal Backend = "local"
	// BackendSandbox runs tools inside an acquired sandbox via its Provider.
	BackendSandbox Backend = "sandbox"
)

// DefaultCommandTimeout bounds a single shell/tool invocation when the
// caller does not specify one. Exceeding it kills the process and returns
// an error result rather than hanging silently.
const DefaultCommandTimeout = 30 * time.Second

// Config carries the run-scoped settings an Executor needs: which backend
// to use, where the sandbox coordinator and acquired sandbox ID are (when
// running against a sandbox), and the working directory / environment to
// apply for local execution.
type Config struct {
	Backend Backend

	// Sandbox-backend fields.
	Coordinator *sandbox.Coordinator
	SandboxID   string
	SandboxRoot string

	// Local-backend fields.
	WorkDir string
	Env     map[string]string

	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCommandTimeout
}
