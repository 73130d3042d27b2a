package server

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"statusline/internal/engine"
)

var weekKeyRe = regexp.MustCompile(`^\d{4}-W\d{2}$`)

const memberNotFound = "Member not found in team directory"

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{OK: true, Week: e.WeekKey(), TS: now.UTC().Format(time.RFC3339)}}, nil
	})
}

func registerSendWeekly(api huma.API, e engine.Engine, secret string) {
	type sendWeeklyInput struct {
		Body SendWeeklyRequest
	}
	huma.Register(api, huma.Operation{
		OperationID: "send-weekly",
		Method:      http.MethodPost,
		Path:        "/jobs/send_weekly",
		Summary:     "Preview a member's weekly task digest",
		Middlewares: huma.Middlewares{requireTriggerSecret(api, secret)},
	}, func(ctx context.Context, input *sendWeeklyInput) (*struct {
		Body SendWeeklyResponse `json:"body"`
	}, error) {
		week := strings.TrimSpace(input.Body.Week)
		if week != "" && !weekKeyRe.MatchString(week) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "week must look like 2026-W42", map[string]any{"week": week})
		}
		preview, found, err := e.PreviewWeekly(ctx, input.Body.To, week)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body SendWeeklyResponse `json:"body"`
		}{}
		if !found {
			out.Body = SendWeeklyResponse{OK: false, Error: memberNotFound}
			return out, nil
		}
		tasks := preview.Tasks
		out.Body = SendWeeklyResponse{OK: true, PreviewMessage: preview.Message, Tasks: &tasks}
		return out, nil
	})
}
