package toolloop

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// ReadFile returns the contents of path through config's backend.
func ReadFile(ctx context.Context, path string, config Config) (string, error) {
	switch config.Backend {
	case BackendSandbox:
		res, err := RunShell(ctx, shQuote("cat", toSandboxPath(path, config)), "", config)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("toolloop: read %s: %s", path, res.Stderr)
		}
		return res.Stdout, nil
	default:
		local := path
		if !filepath.IsAbs(local) {
			local = filepath.Join(config.WorkDir, local)
		}
		b, err := os.ReadFile(local)
		return string(b), err
	}
}

// WriteFile overwrites path with content through config's backend, creating
// parent directories as needed.
func WriteFile(ctx context.Context, path string, content string, config Config) error {
	switch config.Backend {
	case BackendSandbox:
		full := toSandboxPath(path, config)
		encoded := base64.StdEncoding.EncodeToString([]byte(content))
		cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
			shQuote(filepath.Dir(full)), shQuote(encoded), shQuote(full))
		res, err := RunShell(ctx, cmd, "", config)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("toolloop: write %s: %s", path, res.Stderr)
		}
		return nil
	default:
		local := path
		if !filepath.IsAbs(local) {
			local = filepath.Join(config.WorkDir, local)
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return err
		}
		return os.WriteFile(local, []byte(content), 0o644)
	}
}

func shQuote(args ...string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += "'" + escapeSingleQuotes(a) + "'"
	}
	return out
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
