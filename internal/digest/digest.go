// Package digest renders the weekly task preview sent to a member.
package digest

import (
	"fmt"
	"strings"

	"statusline/internal/domain"
)

var replyHints = []string{
	"",
	"Reply like:",
	"A done",
	"B 60%",
	"C blocked waiting on X",
	"Or just type normally, I'll parse it.",
}

// Format lists tasks in order with the same letters the inbound handler will
// assign, followed by reply examples.
func Format(week string, tasks []domain.Task) string {
	lines := make([]string, 0, len(tasks)+len(replyHints)+1)
	lines = append(lines, fmt.Sprintf("Your tasks for %s:", week))
	for _, c := range domain.LabelTasks(tasks) {
		line := fmt.Sprintf("%s) %s", c.Label, c.Task.Title)
		if c.Task.DueDate != nil && *c.Task.DueDate != "" {
			line += fmt.Sprintf(" (Due %s)", *c.Task.DueDate)
		}
		lines = append(lines, line)
	}
	lines = append(lines, replyHints...)
	return strings.Join(lines, "\n")
}
