package domain

// Canonical task statuses. The store accepts any string; these are the ones the bot writes.
const (
	StatusNotStarted = "Not Started"
	StatusInProgress = "In Progress"
	StatusBlocked    = "Blocked"
	StatusDone       = "Done"
)

// MaxTextLength bounds blocker text and the update log.
const MaxTextLength = 1800

// CandidatePageSize caps the tasks offered to the interpreter for one message.
const CandidatePageSize = 50

type Member struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	ChannelAddress string `json:"channel_address"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Status         string  `json:"status,omitempty"`
	Progress       *int    `json:"progress,omitempty"`
	DueDate        *string `json:"due_date,omitempty" format:"date"`
	OwnerID        string  `json:"owner_id"`
	WeekKey        string  `json:"week_key"`
	Blocker        *string `json:"blocker,omitempty"`
	NeedsAttention bool    `json:"needs_attention"`
	UpdateLog      string  `json:"update_log,omitempty"`
	LastUpdate     *string `json:"last_update,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Candidate is a task addressable by a per-message letter label.
type Candidate struct {
	Label string
	Task  Task
}

// Decision is the interpreter's structured reading of one message. Nil fields are unknown.
type Decision struct {
	SelectedTaskID *string
	Status         *string
	Progress       *int
	Blocker        *string
	NeedsAttention *bool
	Confidence     float64
	Followup       *string
}

// Mutation is a partial task update. Nil fields leave stored values untouched.
type Mutation struct {
	Status         *string
	Progress       *int
	Blocker        *string
	NeedsAttention *bool
}

// Mutation projects the decision onto the fields the writer may change.
func (d Decision) Mutation() Mutation {
	return Mutation{
		Status:         d.Status,
		Progress:       d.Progress,
		Blocker:        d.Blocker,
		NeedsAttention: d.NeedsAttention,
	}
}
