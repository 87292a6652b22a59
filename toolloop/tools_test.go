package toolloop

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swe-orchestrator/core/sandbox"
)

func localConfig(t *testing.T) Config {
	t.Helper()
	return Config{Backend: BackendLocal, WorkDir: t.TempDir()}
}

func TestShellTool_RunsArgvCommand(t *testing.T) {
	tool := shellTool()
	result, status, _, err := tool.Executor(context.Background(), shellPayload{Command: []string{"echo", "hello"}}, nil, localConfig(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	res := result.(sandbox.ExecResult)
	assert.Contains(t, res.Stdout, "hello")
}

func TestStrReplaceEditTool_CreateViewAndReplace(t *testing.T) {
	tool := strReplaceEditTool()
	config := localConfig(t)

	_, status, _, err := tool.Executor(context.Background(), editPayload{
		Command: "create", Path: "notes.txt", FileText: "hello world\n",
	}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	result, status, _, err := tool.Executor(context.Background(), editPayload{
		Command: "view", Path: "notes.txt",
	}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "hello world\n", result)

	_, status, _, err = tool.Executor(context.Background(), editPayload{
		Command: "str_replace", Path: "notes.txt", OldStr: "world", NewStr: "there",
	}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	result, _, _, err = tool.Executor(context.Background(), editPayload{
		Command: "view", Path: "notes.txt",
	}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", result)
}

func TestStrReplaceEditTool_AmbiguousReplaceFails(t *testing.T) {
	tool := strReplaceEditTool()
	config := localConfig(t)
	_, _, _, err := tool.Executor(context.Background(), editPayload{
		Command: "create", Path: "dup.txt", FileText: "a\na\n",
	}, nil, config)
	require.NoError(t, err)

	_, status, _, err := tool.Executor(context.Background(), editPayload{
		Command: "str_replace", Path: "dup.txt", OldStr: "a", NewStr: "b",
	}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
}

func TestViewTool_ReadsFileUnderWorkDir(t *testing.T) {
	config := localConfig(t)
	require.NoError(t, WriteFile(context.Background(), "a/b.txt", "content", config))

	tool := viewTool()
	result, status, _, err := tool.Executor(context.Background(), viewPayload{Path: "a/b.txt"}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "content", result)
}

func TestWriteDefaultTSConfigTool_WritesCanonicalFile(t *testing.T) {
	config := localConfig(t)
	tool := writeDefaultTSConfigTool()
	_, status, _, err := tool.Executor(context.Background(), writeDefaultTSConfigPayload{}, nil, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	content, err := ReadFile(context.Background(), filepath.Join(config.WorkDir, "tsconfig.json"), config)
	require.NoError(t, err)
	assert.Contains(t, content, "\"strict\": true")
}

func TestSearchDocumentForTool_MissingStateFailsClosed(t *testing.T) {
	tool := searchDocumentForTool()
	_, status, _, err := tool.Executor(context.Background(), searchDocumentForPayload{Name: "spec", Query: "x"}, nil, localConfig(t))
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
}

type fakeDocumentCache map[string]string

func (c fakeDocumentCache) DocumentCache() map[string]string { return c }

func TestSearchDocumentForTool_FindsMatchingLines(t *testing.T) {
	tool := searchDocumentForTool()
	state := fakeDocumentCache{"spec": "line one\nmatch this line\nline three"}
	result, status, _, err := tool.Executor(context.Background(), searchDocumentForPayload{Name: "spec", Query: "match"}, state, localConfig(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "match this line", result)
}
