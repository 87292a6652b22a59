package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	taskPlanOpenTag  = "<open-swe-do-not-edit-task-plan>"
	taskPlanCloseTag = "</open-swe-do-not-edit-task-plan>"

	proposedPlanOpenTag  = "<open-swe-do-not-edit-proposed-plan>"
	proposedPlanCloseTag = "</open-swe-do-not-edit-proposed-plan>"

	issueTitleOpenTag  = "<open-swe-issue-title>"
	issueTitleCloseTag = "</open-swe-issue-title>"

	issueContentOpenTag  = "<open-swe-issue-content>"
	issueContentCloseTag = "</open-swe-issue-content>"

	agentContextSummary = "Agent Context"
)

// Trigger labels that start (or reconfigure) a run. The -dev suffix variants
// are matched instead when MatchTrigger's devEnvironment argument is true.
const (
	TriggerLabel        = "open-swe"
	TriggerLabelAuto    = "open-swe-auto"
	TriggerLabelMax     = "open-swe-max"
	TriggerLabelMaxAuto = "open-swe-max-auto"
	devLabelSuffix      = "-dev"
)

// Trigger describes what an issue's labels request.
type Trigger struct {
	// AutoApprovePlan skips the human plan-approval interrupt.
	AutoApprovePlan bool
	// MaxCapability routes Planner/Programmer LLM calls to the most capable
	// configured models instead of the default tier.
	MaxCapability bool
}

// MatchTrigger inspects labels for an open-swe trigger (optionally
// -dev-suffixed, when devEnvironment is true) and reports the trigger's
// configuration. ok is false if no trigger label is present.
func MatchTrigger(labels []string, devEnvironment bool) (trigger Trigger, ok bool) {
	suffix := ""
	if devEnvironment {
		suffix = devLabelSuffix
	}
	want := map[string]Trigger{
		TriggerLabel + suffix:        {},
		TriggerLabelAuto + suffix:    {AutoApprovePlan: true},
		TriggerLabelMax + suffix:     {MaxCapability: true},
		TriggerLabelMaxAuto + suffix: {AutoApprovePlan: true, MaxCapability: true},
	}
	for _, label := range labels {
		if t, found := want[label]; found {
			return t, true
		}
	}
	return Trigger{}, false
}

// FormatNewIssueMessage renders title/body into the sentinel-tagged format
// used to create a fresh tracking issue from a conversational request.
func FormatNewIssueMessage(title, content string) string {
	return fmt.Sprintf("%s%s%s\n%s%s%s", issueTitleOpenTag, title, issueTitleCloseTag, issueContentOpenTag, content, issueContentCloseTag)
}

var newIssueMessagePattern = regexp.MustCompile(
	`(?s)` + regexp.QuoteMeta(issueTitleOpenTag) + `(.*?)` + regexp.QuoteMeta(issueTitleCloseTag) +
		`\s*` + regexp.QuoteMeta(issueContentOpenTag) + `(.*?)` + regexp.QuoteMeta(issueContentCloseTag))

// ParseNewIssueMessage extracts title/content from a message formatted by
// FormatNewIssueMessage. ok is false if the sentinels aren't present.
func ParseNewIssueMessage(message string) (title, content string, ok bool) {
	m := newIssueMessagePattern.FindStringSubmatch(message)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

// FormatHumanMessageFromIssue renders the title/body of a triggering issue
// into the Human message content convention: a bold title line, a blank
// line, then the body.
func FormatHumanMessageFromIssue(title, body string) string {
	return fmt.Sprintf("**%s**\n\n%s", title, body)
}

func sentinelPattern(open, close string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(open) + `(.*?)` + regexp.QuoteMeta(close))
}

var (
	taskPlanPattern     = sentinelPattern(taskPlanOpenTag, taskPlanCloseTag)
	proposedPlanPattern = sentinelPattern(proposedPlanOpenTag, proposedPlanCloseTag)
)

// EncodeTaskPlanForIssueBody serializes plan as JSON wrapped in the
// task-plan sentinel tags, itself wrapped in a collapsed <details> block so
// the rendered issue body stays readable; parsing tolerates both the
// wrapped and bare forms.
func EncodeTaskPlanForIssueBody(plan *TaskPlan) (string, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("orchestrator: encode task plan: %w", err)
	}
	body := taskPlanOpenTag + string(raw) + taskPlanCloseTag
	return wrapAgentContext(body), nil
}

// EncodeProposedPlanForIssueBody serializes items as a JSON string array
// wrapped in the proposed-plan sentinel tags.
func EncodeProposedPlanForIssueBody(items []string) (string, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("orchestrator: encode proposed plan: %w", err)
	}
	body := proposedPlanOpenTag + string(raw) + proposedPlanCloseTag
	return wrapAgentContext(body), nil
}

func wrapAgentContext(inner string) string {
	return fmt.Sprintf("<details>\n<summary>%s</summary>\n\n%s\n</details>", agentContextSummary, inner)
}

// ParseTaskPlanFromIssueBody locates and decodes a task-plan sentinel block
// anywhere in body, tolerating surrounding whitespace, other issue content,
// and an optional <details> wrapper. ok is false if no sentinel is found;
// err is non-nil only if a sentinel is found but its JSON is malformed.
func ParseTaskPlanFromIssueBody(body string) (plan *TaskPlan, ok bool, err error) {
	m := taskPlanPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, false, nil
	}
	var decoded TaskPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &decoded); err != nil {
		return nil, true, fmt.Errorf("orchestrator: decode task plan sentinel: %w", err)
	}
	return &decoded, true, nil
}

// ParseProposedPlanFromIssueBody locates and decodes a proposed-plan
// sentinel block anywhere in body, with the same tolerance as
// ParseTaskPlanFromIssueBody.
func ParseProposedPlanFromIssueBody(body string) (items []string, ok bool, err error) {
	m := proposedPlanPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, false, nil
	}
	var decoded []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &decoded); err != nil {
		return nil, true, fmt.Errorf("orchestrator: decode proposed plan sentinel: %w", err)
	}
	return decoded, true, nil
}
