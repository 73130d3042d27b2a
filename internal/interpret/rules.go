package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"statusline/internal/domain"
)

var (
	doneRe      = regexp.MustCompile(`(?i)\b(done|complete|completed|finished|shipped)\b`)
	blockedRe   = regexp.MustCompile(`(?i)\b(blocked|stuck)\b`)
	startedRe   = regexp.MustCompile(`(?i)\b(started|working on|in progress)\b`)
	percentRe   = regexp.MustCompile(`(\d{1,3})\s*%`)
	riskRe      = regexp.MustCompile(`(?i)\b(risk|risky|late|behind|delayed|slipping)\b`)
	labelLeadRe = regexp.MustCompile(`^([A-Z]{1,2})(?:[\s:.)\-]+|$)`)
)

// RuleScorer is an offline scorer driven by keywords. It understands the
// phrasings from the usage hint ("done", "60%", "blocked waiting on X"),
// optionally prefixed by a task letter.
type RuleScorer struct{}

func (RuleScorer) Name() string { return "rules" }

type ruleRecord struct {
	TaskID         *string `json:"task_id"`
	Status         *string `json:"status"`
	Progress       *int    `json:"progress"`
	Blocker        *string `json:"blocker"`
	NeedsAttention *bool   `json:"needs_attention"`
	Confidence     float64 `json:"confidence"`
	Followup       *string `json:"followup"`
}

func (RuleScorer) Score(_ context.Context, req ScoreRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Message)
	selected, rest := pickCandidate(text, req.Candidates)

	var rec ruleRecord
	found := false
	switch {
	case doneRe.MatchString(rest):
		rec.Status = strPtr(domain.StatusDone)
		rec.Progress = intPtr(100)
		found = true
	case blockedRe.MatchString(rest):
		rec.Status = strPtr(domain.StatusBlocked)
		loc := blockedRe.FindStringIndex(rest)
		reason := strings.TrimSpace(strings.TrimLeft(rest[loc[1]:], " ,:;-"))
		if reason == "" {
			reason = rest
		}
		rec.Blocker = strPtr(reason)
		rec.NeedsAttention = boolPtr(true)
		found = true
	}
	if rec.Progress == nil {
		if m := percentRe.FindStringSubmatch(rest); m != nil {
			p, _ := strconv.Atoi(m[1])
			rec.Progress = intPtr(p)
			found = true
		}
	}
	if rec.Status == nil && rec.Progress == nil && startedRe.MatchString(rest) {
		rec.Status = strPtr(domain.StatusInProgress)
		found = true
	}
	if rec.NeedsAttention == nil {
		overdue := selected != nil && selected.Due != nil && *selected.Due < req.Today
		if overdue || riskRe.MatchString(rest) {
			rec.NeedsAttention = boolPtr(true)
			found = true
		}
	}

	switch {
	case selected != nil && found:
		rec.TaskID = strPtr(selected.ID)
		rec.Confidence = 0.9
	case selected != nil:
		rec.TaskID = strPtr(selected.ID)
		rec.Confidence = 0.5
		rec.Followup = strPtr(fmt.Sprintf("What's the update on %q? e.g. done, 60%%, or blocked waiting on X.", selected.Title))
	default:
		rec.Confidence = 0.3
	}
	return json.Marshal(rec)
}

// pickCandidate selects by leading letter, then by unique title mention, then
// by being the only candidate. It returns the message with any letter removed.
func pickCandidate(text string, candidates []CandidateSummary) (*CandidateSummary, string) {
	if m := labelLeadRe.FindStringSubmatch(text); m != nil {
		for i := range candidates {
			if strings.EqualFold(candidates[i].Letter, m[1]) {
				return &candidates[i], strings.TrimSpace(text[len(m[0]):])
			}
		}
	}
	lower := strings.ToLower(text)
	var hit *CandidateSummary
	hits := 0
	for i := range candidates {
		title := strings.ToLower(strings.TrimSpace(candidates[i].Title))
		if title != "" && strings.Contains(lower, title) {
			hit = &candidates[i]
			hits++
		}
	}
	if hits == 1 {
		return hit, text
	}
	if len(candidates) == 1 {
		return &candidates[0], text
	}
	return nil, text
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
