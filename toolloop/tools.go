package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/swe-orchestrator/core/runtime/agent/tools"
)

// ReviewCommenter replies to pull-request review threads. It is satisfied
// by an orchestrator source-control client; toolloop never imports
// orchestrator, mirroring how sandbox.SourceControl stays narrow.
type ReviewCommenter interface {
	ReplyToComment(ctx context.Context, commentID, body string) error
	ReplyToReviewComment(ctx context.Context, commentID, body string) error
	ReplyToReview(ctx context.Context, reviewID, body string) error
}

func decodePayload[T any](input any) (T, error) {
	var out T
	raw, err := json.Marshal(input)
	if err != nil {
		return out, fmt.Errorf("toolloop: encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("toolloop: decode payload: %w", err)
	}
	return out, nil
}

func objectSchema(properties ...string) []byte {
	props := make(map[string]any, len(properties))
	for _, p := range properties {
		props[p] = map[string]any{}
	}
	b, _ := json.Marshal(map[string]any{"type": "object", "properties": props})
	return b
}

func statusFor(exitCode int) Status {
	if exitCode == 0 {
		return StatusSuccess
	}
	return StatusError
}

func toolSpec(name tools.Ident, description string, payloadProps ...string) tools.ToolSpec {
	return tools.ToolSpec{
		Name:        name,
		Toolset:     "core",
		Description: description,
		Payload:     tools.TypeSpec{Name: string(name) + "_payload", Schema: objectSchema(payloadProps...), Codec: tools.AnyJSONCodec},
		Result:      tools.TypeSpec{Name: string(name) + "_result", Codec: tools.AnyJSONCodec},
	}
}

// shellPayload is the argv-form shell call described by the command-safety
// gate and approval-key derivation: callers supply an argv slice, never a
// raw shell string, so the safety evaluator and approval cache can reason
// about the literal command being run.
type shellPayload struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

func shellTool() Tool {
	return Tool{
		Spec: toolSpec("shell", "Runs a command (argv form) in the working tree.", "command", "cwd"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[shellPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			res, err := RunCommand(ctx, p.Command, p.Cwd, config)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return res, statusFor(res.ExitCode), nil, nil
		},
	}
}

type grepPayload struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Cwd     string `json:"cwd"`
}

func grepTool() Tool {
	return Tool{
		Spec: toolSpec("grep", "Searches files under path for a regular expression.", "pattern", "path", "cwd"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[grepPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			target := p.Path
			if target == "" {
				target = "."
			}
			res, err := RunCommand(ctx, []string{"grep", "-rn", "--", p.Pattern, target}, p.Cwd, config)
			if err != nil {
				return nil, StatusError, nil, err
			}
			// grep exits 1 for "no matches", which is not a tool failure.
			if res.ExitCode > 1 {
				return res, StatusError, nil, nil
			}
			return res, StatusSuccess, nil, nil
		},
	}
}

type viewPayload struct {
	Path string `json:"path"`
}

func viewTool() Tool {
	return Tool{
		Spec: toolSpec("view", "Returns the contents of a file.", "path"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[viewPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			content, err := ReadFile(ctx, p.Path, config)
			if err != nil {
				return err.Error(), StatusError, nil, nil
			}
			return content, StatusSuccess, nil, nil
		},
	}
}

type applyPatchPayload struct {
	Patch string `json:"patch"`
	Cwd   string `json:"cwd"`
}

func applyPatchTool() Tool {
	return Tool{
		Spec: toolSpec("apply_patch", "Applies a unified diff to the working tree.", "patch", "cwd"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[applyPatchPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			patchPath := ".toolloop-patch-" + fmt.Sprintf("%d", time.Now().UnixNano())
			if err := WriteFile(ctx, patchPath, p.Patch, config); err != nil {
				return nil, StatusError, nil, err
			}
			res, err := RunCommand(ctx, []string{"git", "apply", "--whitespace=nowarn", patchPath}, p.Cwd, config)
			_, _ = RunCommand(ctx, []string{"rm", "-f", patchPath}, p.Cwd, config)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return res, statusFor(res.ExitCode), nil, nil
		},
	}
}

// editPayload backs str_replace_based_edit_tool, whose Command selects one
// of four sub-operations against a single file.
type editPayload struct {
	Command    string `json:"command"` // view | str_replace | create | insert
	Path       string `json:"path"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	FileText   string `json:"file_text"`
	InsertLine int    `json:"insert_line"`
	InsertText string `json:"insert_text"`
}

func strReplaceEditTool() Tool {
	return Tool{
		Spec: toolSpec("str_replace_based_edit_tool", "Views or edits a single file via view/str_replace/create/insert.",
			"command", "path", "old_str", "new_str", "file_text", "insert_line", "insert_text"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[editPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			switch p.Command {
			case "view":
				content, err := ReadFile(ctx, p.Path, config)
				if err != nil {
					return err.Error(), StatusError, nil, nil
				}
				return content, StatusSuccess, nil, nil

			case "create":
				if err := WriteFile(ctx, p.Path, p.FileText, config); err != nil {
					return nil, StatusError, nil, err
				}
				return fmt.Sprintf("created %s", p.Path), StatusSuccess, nil, nil

			case "str_replace":
				content, err := ReadFile(ctx, p.Path, config)
				if err != nil {
					return err.Error(), StatusError, nil, nil
				}
				count := strings.Count(content, p.OldStr)
				if count != 1 {
					return fmt.Sprintf("old_str must match exactly once, found %d matches", count), StatusError, nil, nil
				}
				updated := strings.Replace(content, p.OldStr, p.NewStr, 1)
				if err := WriteFile(ctx, p.Path, updated, config); err != nil {
					return nil, StatusError, nil, err
				}
				return fmt.Sprintf("replaced 1 occurrence in %s", p.Path), StatusSuccess, nil, nil

			case "insert":
				content, err := ReadFile(ctx, p.Path, config)
				if err != nil {
					return err.Error(), StatusError, nil, nil
				}
				lines := strings.Split(content, "\n")
				if p.InsertLine < 0 || p.InsertLine > len(lines) {
					return fmt.Sprintf("insert_line %d out of range (file has %d lines)", p.InsertLine, len(lines)), StatusError, nil, nil
				}
				updatedLines := make([]string, 0, len(lines)+1)
				updatedLines = append(updatedLines, lines[:p.InsertLine]...)
				updatedLines = append(updatedLines, p.InsertText)
				updatedLines = append(updatedLines, lines[p.InsertLine:]...)
				if err := WriteFile(ctx, p.Path, strings.Join(updatedLines, "\n"), config); err != nil {
					return nil, StatusError, nil, err
				}
				return fmt.Sprintf("inserted at line %d in %s", p.InsertLine, p.Path), StatusSuccess, nil, nil

			default:
				return fmt.Sprintf("unknown command %q", p.Command), StatusError, nil, nil
			}
		},
	}
}

type installDependenciesPayload struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

// installDependenciesTimeout is longer than DefaultCommandTimeout since
// dependency installs routinely run past 30s.
const installDependenciesTimeout = 5 * time.Minute

func installDependenciesTool() Tool {
	return Tool{
		Spec: toolSpec("install_dependencies", "Runs a package manager install command.", "command", "cwd"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[installDependenciesPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			installConfig := config
			installConfig.Timeout = installDependenciesTimeout
			res, err := RunCommand(ctx, p.Command, p.Cwd, installConfig)
			if err != nil {
				return nil, StatusError, nil, err
			}
			stateUpdates := map[string]any{}
			if res.ExitCode == 0 {
				stateUpdates["dependenciesInstalled"] = true
			}
			return res, statusFor(res.ExitCode), stateUpdates, nil
		},
	}
}

type getURLContentPayload struct {
	URL string `json:"url"`
}

// maxFetchedBodyBytes bounds how much of a fetched page is returned to the
// model, so a large response never blows the context window.
const maxFetchedBodyBytes = 200_000

func getURLContentTool() Tool {
	return Tool{
		Spec: toolSpec("get_url_content", "Fetches a URL and returns its body text.", "url"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[getURLContentPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
			if err != nil {
				return nil, StatusError, nil, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err.Error(), StatusError, nil, nil
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedBodyBytes))
			if err != nil {
				return nil, StatusError, nil, err
			}
			if resp.StatusCode >= 400 {
				return fmt.Sprintf("fetch %s: status %d", p.URL, resp.StatusCode), StatusError, nil, nil
			}
			stateUpdates := map[string]any{"documentCache." + p.URL: string(body)}
			return string(body), StatusSuccess, stateUpdates, nil
		},
	}
}

// documentCacheReader exposes a ThreadState's cached fetched documents to
// search_document_for without toolloop importing orchestrator.
type documentCacheReader interface {
	DocumentCache() map[string]string
}

type searchDocumentForPayload struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

func searchDocumentForTool() Tool {
	return Tool{
		Spec: toolSpec("search_document_for", "Searches a previously fetched document for a query string.", "name", "query"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[searchDocumentForPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			cache, ok := state.(documentCacheReader)
			if !ok {
				return "no document cache available in this run", StatusError, nil, nil
			}
			doc, ok := cache.DocumentCache()[p.Name]
			if !ok {
				return fmt.Sprintf("no cached document named %q; fetch it with get_url_content first", p.Name), StatusError, nil, nil
			}
			var matches []string
			for _, line := range strings.Split(doc, "\n") {
				if strings.Contains(strings.ToLower(line), strings.ToLower(p.Query)) {
					matches = append(matches, line)
				}
			}
			return strings.Join(matches, "\n"), StatusSuccess, nil, nil
		},
	}
}

type scratchpadPayload struct {
	Note string `json:"note"`
}

func scratchpadTool() Tool {
	return Tool{
		Spec: toolSpec("scratchpad", "Records a private reasoning note not shown to the user.", "note"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[scratchpadPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "noted", StatusSuccess, map[string]any{"scratchpad.append": p.Note}, nil
		},
	}
}

type updatePlanPayload struct {
	Explanation string   `json:"explanation"`
	Plan        []string `json:"plan"`
}

func updatePlanTool() Tool {
	return Tool{
		Spec: toolSpec("update_plan", "Proposes a revised plan for the active task.", "explanation", "plan"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[updatePlanPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "plan updated", StatusSuccess, map[string]any{
				"planRevision.explanation": p.Explanation,
				"planRevision.items":       p.Plan,
			}, nil
		},
	}
}

type sessionPlanPayload struct {
	Plan []string `json:"plan"`
}

func sessionPlanTool() Tool {
	return Tool{
		Spec: toolSpec("session_plan", "Records the initial task plan for the run.", "plan"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[sessionPlanPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "plan recorded", StatusSuccess, map[string]any{"taskPlan.items": p.Plan}, nil
		},
	}
}

type markTaskPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func markTaskCompletedTool() Tool {
	return Tool{
		Spec: toolSpec("mark_task_completed", "Marks the active plan item as completed.", "task_id", "reason"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[markTaskPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "marked completed", StatusSuccess, map[string]any{
				"completedTaskID": p.TaskID,
				"completedReason": p.Reason,
			}, nil
		},
	}
}

func markTaskNotCompletedTool() Tool {
	return Tool{
		Spec: toolSpec("mark_task_not_completed", "Marks the active plan item as unable to be completed.", "task_id", "reason"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[markTaskPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "marked not completed", StatusSuccess, map[string]any{
				"blockedTaskID": p.TaskID,
				"blockedReason": p.Reason,
			}, nil
		},
	}
}

type writeTechnicalNotesPayload struct {
	Notes string `json:"notes"`
}

func writeTechnicalNotesTool() Tool {
	return Tool{
		Spec: toolSpec("write_technical_notes", "Persists technical notes visible in the task's final summary.", "notes"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[writeTechnicalNotesPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return "notes recorded", StatusSuccess, map[string]any{"technicalNotes": p.Notes}, nil
		},
	}
}

type requestHumanHelpPayload struct {
	Question string `json:"question"`
}

func requestHumanHelpTool() Tool {
	return Tool{
		Spec: toolSpec("request_human_help", "Pauses the run and asks a human operator a question.", "question"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[requestHumanHelpPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			return map[string]any{"awaitingHuman": true, "question": p.Question}, StatusSuccess, nil, nil
		},
	}
}

type openPRPayload struct {
	Title            string `json:"title"`
	TargetRepository string `json:"target_repository"`
	BranchName       string `json:"branch_name"`
	FirstCommit      bool   `json:"first_commit"`
}

func openPRTool() Tool {
	return Tool{
		Spec: toolSpec("open_pr", "Commits pending sandbox changes and opens (or updates) the task's pull request.",
			"title", "target_repository", "branch_name", "first_commit"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[openPRPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			if config.Coordinator == nil {
				return nil, StatusError, nil, errNoCoordinator
			}
			number, err := config.Coordinator.CommitAndPush(ctx, config.SandboxID, p.TargetRepository, p.BranchName, p.Title, p.FirstCommit)
			if err != nil {
				return err.Error(), StatusError, nil, nil
			}
			return map[string]any{"prNumber": number}, StatusSuccess, map[string]any{"prNumber": number}, nil
		},
	}
}

type replyPayload struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// replyTool builds one of the three review-reply tools (reply_to_comment,
// reply_to_review_comment, reply_to_review), which differ only in which
// ReviewCommenter method they invoke. These are registered only when the
// run context indicates a PR review triggered the task.
func replyTool(name tools.Ident, description string, call func(ReviewCommenter, context.Context, string, string) error) Tool {
	return Tool{
		Spec: toolSpec(name, description, "id", "body"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[replyPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			commenter, ok := state.(ReviewCommenter)
			if !ok {
				return "no review-comment client configured for this run", StatusError, nil, nil
			}
			if err := call(commenter, ctx, p.ID, p.Body); err != nil {
				return err.Error(), StatusError, nil, nil
			}
			return "reply posted", StatusSuccess, nil, nil
		},
	}
}

func replyToCommentTool() Tool {
	return replyTool("reply_to_comment", "Replies to an issue comment.",
		func(c ReviewCommenter, ctx context.Context, id, body string) error { return c.ReplyToComment(ctx, id, body) })
}

func replyToReviewCommentTool() Tool {
	return replyTool("reply_to_review_comment", "Replies to a pull request review comment thread.",
		func(c ReviewCommenter, ctx context.Context, id, body string) error { return c.ReplyToReviewComment(ctx, id, body) })
}

func replyToReviewTool() Tool {
	return replyTool("reply_to_review", "Replies to a pull request review.",
		func(c ReviewCommenter, ctx context.Context, id, body string) error { return c.ReplyToReview(ctx, id, body) })
}

// defaultTSConfig is the canonical tsconfig.json written by
// write_default_tsconfig when a JS/TS project under test has none.
const defaultTSConfig = `{
  "compilerOptions": {
    "target": "ES2022",
    "module": "ESNext",
    "moduleResolution": "bundler",
    "strict": true,
    "skipLibCheck": true,
    "esModuleInterop": true,
    "forceConsistentCasingInFileNames": true
  }
}
`

type writeDefaultTSConfigPayload struct {
	Path string `json:"path"`
}

func writeDefaultTSConfigTool() Tool {
	return Tool{
		Spec: toolSpec("write_default_tsconfig", "Writes a default tsconfig.json at path.", "path"),
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			p, err := decodePayload[writeDefaultTSConfigPayload](input)
			if err != nil {
				return nil, StatusError, nil, err
			}
			path := p.Path
			if path == "" {
				path = "tsconfig.json"
			}
			if err := WriteFile(ctx, path, defaultTSConfig, config); err != nil {
				return nil, StatusError, nil, err
			}
			return fmt.Sprintf("wrote %s", path), StatusSuccess, nil, nil
		},
	}
}

// NewDefaultRegistry returns the core tool set available to every run.
// includeReviewReplyTools should be true only when the task was triggered
// from a pull request review, per the runtime's context-dependent tool
// binding.
func NewDefaultRegistry(includeReviewReplyTools bool) (*Registry, error) {
	r := NewRegistry()
	all := []Tool{
		shellTool(),
		grepTool(),
		viewTool(),
		applyPatchTool(),
		strReplaceEditTool(),
		installDependenciesTool(),
		getURLContentTool(),
		searchDocumentForTool(),
		scratchpadTool(),
		updatePlanTool(),
		sessionPlanTool(),
		markTaskCompletedTool(),
		markTaskNotCompletedTool(),
		writeTechnicalNotesTool(),
		requestHumanHelpTool(),
		openPRTool(),
		writeDefaultTSConfigTool(),
	}
	if includeReviewReplyTools {
		all = append(all, replyToCommentTool(), replyToReviewCommentTool(), replyToReviewTool())
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
