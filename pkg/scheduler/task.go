// Package scheduler implements the persistent task store and the scheduler
// engine that executes due tasks against a botapi.API with bounded
// concurrency and run-count caps (spec §3, §4.3, §4.4).
package scheduler

import (
	"time"

	"vkteamsbot/pkg/botapi"
)

// TaskID uniquely and stably identifies a task for its lifetime.
type TaskID string

// TaskKind discriminates a Task's payload.
type TaskKind string

const (
	TaskSendText   TaskKind = "send_text"
	TaskSendFile   TaskKind = "send_file"
	TaskSendVoice  TaskKind = "send_voice"
	TaskSendAction TaskKind = "send_action"
)

// Task is the tagged-union payload of a ScheduledTask: exactly one of
// SendText / SendFile / SendVoice / SendAction (spec §3). It is kept as a
// single flattened struct with a Kind discriminator, not an interface, so
// the task store can serialize it losslessly as plain JSON, following the
// teacher's proto.AgentMsg convention of a Type tag plus a payload.
type Task struct {
	Kind   TaskKind      `json:"kind"`
	ChatID botapi.ChatID `json:"chatId"`

	// Message is populated when Kind == TaskSendText.
	Message string `json:"message,omitempty"`

	// FilePath is populated when Kind is TaskSendFile or TaskSendVoice.
	FilePath string `json:"filePath,omitempty"`

	// Action is populated when Kind == TaskSendAction.
	Action botapi.Action `json:"action,omitempty"`
}

// NewSendText builds a TaskSendText payload.
func NewSendText(chatID botapi.ChatID, message string) Task {
	return Task{Kind: TaskSendText, ChatID: chatID, Message: message}
}

// NewSendFile builds a TaskSendFile payload.
func NewSendFile(chatID botapi.ChatID, filePath string) Task {
	return Task{Kind: TaskSendFile, ChatID: chatID, FilePath: filePath}
}

// NewSendVoice builds a TaskSendVoice payload.
func NewSendVoice(chatID botapi.ChatID, filePath string) Task {
	return Task{Kind: TaskSendVoice, ChatID: chatID, FilePath: filePath}
}

// NewSendAction builds a TaskSendAction payload. action must be
// botapi.ActionTyping or botapi.ActionLooking.
func NewSendAction(chatID botapi.ChatID, action botapi.Action) Task {
	return Task{Kind: TaskSendAction, ChatID: chatID, Action: action}
}

// Validate reports whether the task payload is well-formed (spec §7: empty
// chat id or unknown chat action are InvalidInput).
func (t Task) Validate() error {
	if t.ChatID == "" {
		return errEmptyChatID
	}
	switch t.Kind {
	case TaskSendText:
		if t.Message == "" {
			return errEmptyMessage
		}
	case TaskSendFile, TaskSendVoice:
		if t.FilePath == "" {
			return errEmptyFilePath
		}
	case TaskSendAction:
		if t.Action != botapi.ActionTyping && t.Action != botapi.ActionLooking {
			return errUnknownAction
		}
	default:
		return errUnknownTaskKind
	}
	return nil
}

// ScheduledTask is the persistent, durable record of one scheduled task
// (spec §3). next_run is always kept consistent with schedule and last_run
// by the task store; callers never set it directly.
type ScheduledTask struct {
	ID        TaskID       `json:"id"`
	Task      Task         `json:"task"`
	Schedule  Schedule     `json:"schedule"`
	CreatedAt time.Time    `json:"createdAt"`
	LastRun   *time.Time   `json:"lastRun,omitempty"`
	NextRun   time.Time    `json:"nextRun"`
	Enabled   bool         `json:"enabled"`
	RunCount  uint64       `json:"runCount"`
	MaxRuns   *uint64      `json:"maxRuns,omitempty"`
}

// ReachedMaxRuns reports whether run_count has reached the configured cap.
func (s *ScheduledTask) ReachedMaxRuns() bool {
	return s.MaxRuns != nil && s.RunCount >= *s.MaxRuns
}

// Eligible reports whether the task is due to run at or before now, per
// spec §4.3 extract_ready: enabled ∧ next_run ≤ now ∧ (max_runs is None ∨
// run_count < max_runs).
func (s *ScheduledTask) Eligible(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextRun.After(now) {
		return false
	}
	return !s.ReachedMaxRuns()
}

// baseInstant returns max(created_at, last_run or created_at), the base
// instant next_run is always computed from (spec §3 invariant).
func (s *ScheduledTask) baseInstant() time.Time {
	if s.LastRun != nil && s.LastRun.After(s.CreatedAt) {
		return *s.LastRun
	}
	return s.CreatedAt
}
