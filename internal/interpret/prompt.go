package interpret

import (
	"encoding/json"
	"fmt"
	"time"

	"statusline/internal/domain"
)

// CandidateSummary is the compact view of a task the scorer sees.
type CandidateSummary struct {
	Letter   string  `json:"letter"`
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Status   *string `json:"status"`
	Progress *int    `json:"progress"`
	Due      *string `json:"due"`
}

// ScoreRequest is everything a scorer may look at for one message.
type ScoreRequest struct {
	Prompt     string
	Message    string
	Today      string
	Candidates []CandidateSummary
}

const promptTemplate = `You are a task update parser for a WhatsApp status bot.
Given the user's message and their task list, return STRICT JSON only (no markdown, no prose).

Rules:
- Choose exactly one task, or ask a follow-up question if unclear.
- If the user says done/completed, set status="Done" and progress=100.
- If the user says blocked, set status="Blocked" and put what blocks them in blocker.
- If the user gives a percent, set progress to that number (0-100).
- needs_attention=true if blocked, overdue (due before today) or the user signals risk.
- confidence is a number from 0 to 1 and must always be present.
- Use null for anything you cannot determine.

Today: %s

Tasks: %s

User message: %s

Return JSON keys: task_id, status, progress, blocker, needs_attention, confidence, followup
task_id is the task's id (its letter is accepted too).`

func summarize(candidates []domain.Candidate) []CandidateSummary {
	out := make([]CandidateSummary, 0, len(candidates))
	for _, c := range candidates {
		s := CandidateSummary{
			Letter:   c.Label,
			ID:       c.Task.ID,
			Title:    c.Task.Title,
			Progress: c.Task.Progress,
			Due:      c.Task.DueDate,
		}
		if c.Task.Status != "" {
			status := c.Task.Status
			s.Status = &status
		}
		out = append(out, s)
	}
	return out
}

// BuildRequest assembles the scorer input: candidate summary, extraction policy and message.
func BuildRequest(message string, candidates []domain.Candidate, now time.Time) ScoreRequest {
	summary := summarize(candidates)
	tasksJSON, _ := json.Marshal(summary)
	today := now.Format("2006-01-02")
	return ScoreRequest{
		Prompt:     fmt.Sprintf(promptTemplate, today, tasksJSON, message),
		Message:    message,
		Today:      today,
		Candidates: summary,
	}
}
