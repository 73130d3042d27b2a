package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"statusline/internal/domain"
	"statusline/internal/logging"
)

// State is a step of inbound message handling.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateMemberResolved State = "MEMBER_RESOLVED"
	StateTasksLoaded    State = "TASKS_LOADED"
	StateInterpreted    State = "INTERPRETED"
	StateClarify        State = "CLARIFY"
	StateApplied        State = "APPLIED"
	StateReplied        State = "REPLIED"
)

// Result labels for a handled message.
const (
	ResultUsage         = "usage"
	ResultUnknownMember = "unknown_member"
	ResultNoTasks       = "no_tasks"
	ResultLookupFailed  = "lookup_failed"
	ResultInterpretFail = "interpret_failed"
	ResultClarify       = "clarify"
	ResultUnmatched     = "unmatched"
	ResultApplied       = "applied"
	ResultWriteFailed   = "write_failed"
)

const (
	ReplyUsage         = "Send an update like: 'done', '60%', or 'blocked waiting on X'."
	ReplyUnknownMember = "I don't recognize this number yet. Add it to the team directory under WhatsApp."
	ReplyNoTasks       = "No tasks found for you in %s. Ask your manager to assign tasks."
	ReplyFailure       = "Sorry, I couldn't process that update right now. Please try again in a moment."
	ReplySaveFailure   = "Sorry, I couldn't save that update. Please try again in a moment."
	ReplyWhichTask     = "Which task is this for? Reply with %s, or paste the task name."
	ReplyUnmatched     = "I couldn't match that to a task. Reply with %s, or paste the task name."
	ReplyDone          = "Nice. Marked as Done and updated the tracker."
	ReplyBlocked       = "Got it. Marked Blocked in the tracker. What do you need to unblock?"
	ReplyUpdated       = "Got it. Updated the tracker."
)

// Inbound is one message from the chat channel.
type Inbound struct {
	From       string
	Body       string
	MessageSID string
}

// Outcome is the single reply for an inbound message and how it got there.
type Outcome struct {
	Reply  string
	Result string
	States []State
	TaskID string
}

func (o *Outcome) enter(s State) {
	o.States = append(o.States, s)
}

func (o *Outcome) reply(result, text string) {
	o.Result = result
	o.Reply = text
}

// HandleMessage always produces exactly one reply. Collaborator errors are
// logged and mapped to fixed replies; they never reach the sender.
func (e Engine) HandleMessage(ctx context.Context, in Inbound) Outcome {
	out := Outcome{States: []State{StateReceived}}
	log := logging.FromContext(ctx, e.logger()).With(zap.String("message_sid", in.MessageSID))

	e.handle(ctx, in, &out, log)

	out.enter(StateReplied)
	recordOutcome(out)
	log.Info("message handled",
		zap.String("result", out.Result),
		zap.String("task_id", out.TaskID),
		zap.Int("states", len(out.States)),
	)
	return out
}

func (e Engine) handle(ctx context.Context, in Inbound, out *Outcome, log *zap.Logger) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		out.reply(ResultUsage, ReplyUsage)
		return
	}

	address := domain.NormalizeChannelAddress(in.From)
	member, ok, err := e.Directory.FindMemberByChannelAddress(ctx, address)
	if err != nil {
		log.Error("member lookup failed", zap.Error(err))
		out.reply(ResultLookupFailed, ReplyFailure)
		return
	}
	if !ok {
		log.Info("unknown sender", zap.String("from", address))
		out.reply(ResultUnknownMember, ReplyUnknownMember)
		return
	}
	out.enter(StateMemberResolved)
	log = log.With(zap.String("member_id", member.ID))

	week := e.WeekKey()
	tasks, err := e.Directory.ListTasksForMemberWeek(ctx, member.ID, week)
	if err != nil {
		log.Error("task lookup failed", zap.String("week", week), zap.Error(err))
		out.reply(ResultLookupFailed, ReplyFailure)
		return
	}
	if len(tasks) == 0 {
		out.reply(ResultNoTasks, fmt.Sprintf(ReplyNoTasks, week))
		return
	}
	out.enter(StateTasksLoaded)
	candidates := domain.LabelTasks(tasks)

	decision, err := e.Interpreter.Interpret(ctx, body, tasks)
	if err != nil {
		log.Error("interpretation failed", zap.Error(err))
		out.reply(ResultInterpretFail, ReplyFailure)
		return
	}
	out.enter(StateInterpreted)

	if decision.Confidence < ConfidenceThreshold || decision.Followup != nil {
		out.enter(StateClarify)
		question := fmt.Sprintf(ReplyWhichTask, letterOptions(candidates))
		if decision.Followup != nil {
			question = *decision.Followup
		}
		out.reply(ResultClarify, question)
		return
	}
	if decision.SelectedTaskID == nil {
		out.enter(StateClarify)
		log.Warn("confident decision without a task", zap.Float64("confidence", decision.Confidence))
		out.reply(ResultUnmatched, fmt.Sprintf(ReplyUnmatched, letterOptions(candidates)))
		return
	}

	taskID := *decision.SelectedTaskID
	log = log.With(zap.String("task_id", taskID))
	if err := e.Writer.Apply(ctx, taskID, decision.Mutation()); err != nil {
		log.Error("task update failed", zap.Error(err))
		out.reply(ResultWriteFailed, ReplySaveFailure)
		return
	}
	out.enter(StateApplied)
	out.TaskID = taskID

	// The field update already happened; a failed log append is reported only.
	if err := e.Writer.AppendLog(ctx, taskID, auditLine(e.now(), member, body)); err != nil {
		log.Warn("update log append failed", zap.Error(err))
	}

	switch {
	case decision.Status != nil && *decision.Status == domain.StatusDone:
		out.reply(ResultApplied, ReplyDone)
	case decision.Status != nil && *decision.Status == domain.StatusBlocked:
		out.reply(ResultApplied, ReplyBlocked)
	default:
		out.reply(ResultApplied, ReplyUpdated)
	}
}
