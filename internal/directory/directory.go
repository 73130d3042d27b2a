// Package directory answers the two read-only questions the bot asks the
// team store: who sent this message, and what are they working on this week.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"statusline/internal/domain"
	"statusline/internal/repo"
)

// DirectoryError reports that the store could not answer a query.
type DirectoryError struct {
	Op  string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

type Client struct {
	Repo repo.Repo
}

func New(r repo.Repo) Client {
	return Client{Repo: r}
}

// FindMemberByChannelAddress returns ok=false when no member has the address.
func (c Client) FindMemberByChannelAddress(ctx context.Context, address string) (domain.Member, bool, error) {
	m, err := c.Repo.GetMemberByChannelAddress(ctx, address)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, &DirectoryError{Op: "find member", Err: err}
	}
	if strings.TrimSpace(m.DisplayName) == "" {
		m.DisplayName = "Team member"
	}
	return m, true, nil
}

// ListTasksForMemberWeek returns at most domain.CandidatePageSize tasks, due date ascending.
func (c Client) ListTasksForMemberWeek(ctx context.Context, memberID, weekKey string) ([]domain.Task, error) {
	tasks, err := c.Repo.ListTasks(ctx, repo.TaskFilters{
		OwnerID: memberID,
		WeekKey: weekKey,
		Limit:   domain.CandidatePageSize,
	})
	if err != nil {
		return nil, &DirectoryError{Op: "list tasks", Err: err}
	}
	for i := range tasks {
		if strings.TrimSpace(tasks[i].Title) == "" {
			tasks[i].Title = "Untitled"
		}
	}
	return tasks, nil
}
