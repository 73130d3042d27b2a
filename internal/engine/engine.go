package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"statusline/internal/digest"
	"statusline/internal/domain"
	"statusline/internal/metrics"
)

// ConfidenceThreshold is the minimum interpreter confidence for a write.
const ConfidenceThreshold = 0.7

type Directory interface {
	FindMemberByChannelAddress(ctx context.Context, address string) (domain.Member, bool, error)
	ListTasksForMemberWeek(ctx context.Context, memberID, weekKey string) ([]domain.Task, error)
}

type Interpreter interface {
	Interpret(ctx context.Context, message string, tasks []domain.Task) (domain.Decision, error)
}

type Writer interface {
	Apply(ctx context.Context, taskID string, m domain.Mutation) error
	AppendLog(ctx context.Context, taskID, line string) error
}

// Engine handles inbound status messages. Location decides which ISO week
// "now" falls in and defaults to UTC.
type Engine struct {
	Directory   Directory
	Interpreter Interpreter
	Writer      Writer
	Now         func() time.Time
	Location    *time.Location
	Logger      *zap.Logger
}

func New(dir Directory, in Interpreter, w Writer, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		Directory:   dir,
		Interpreter: in,
		Writer:      w,
		Now:         time.Now,
		Location:    time.UTC,
		Logger:      logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// WeekKey is the current ISO week in the engine's location.
func (e Engine) WeekKey() string {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	return domain.WeekKey(e.now().In(loc))
}

// Preview is the weekly digest for one member.
type Preview struct {
	Week    string
	Member  domain.Member
	Message string
	Tasks   int
}

// PreviewWeekly builds the digest a member would receive for week (current
// week when empty). found is false when the address matches no member.
func (e Engine) PreviewWeekly(ctx context.Context, address, week string) (Preview, bool, error) {
	if strings.TrimSpace(week) == "" {
		week = e.WeekKey()
	}
	member, ok, err := e.Directory.FindMemberByChannelAddress(ctx, domain.NormalizeChannelAddress(address))
	if err != nil {
		return Preview{}, false, err
	}
	if !ok {
		return Preview{}, false, nil
	}
	tasks, err := e.Directory.ListTasksForMemberWeek(ctx, member.ID, week)
	if err != nil {
		return Preview{}, false, err
	}
	return Preview{
		Week:    week,
		Member:  member,
		Message: digest.Format(week, tasks),
		Tasks:   len(tasks),
	}, true, nil
}

func letterOptions(candidates []domain.Candidate) string {
	n := len(candidates)
	if n > 3 {
		n = 3
	}
	labels := make([]string, 0, n)
	for _, c := range candidates[:n] {
		labels = append(labels, c.Label)
	}
	return strings.Join(labels, ", ")
}

func auditLine(at time.Time, member domain.Member, body string) string {
	return fmt.Sprintf("%s | %s: %s", at.UTC().Format(time.RFC3339), member.DisplayName, body)
}

func recordOutcome(out Outcome) {
	metrics.IncrementMessagesHandled(out.Result)
}
