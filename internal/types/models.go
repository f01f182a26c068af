package types

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the per-message lifecycle state.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusRunning   MessageStatus = "running"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobStatus is the lifecycle state of a background action as reported by
// the backend. Wire values like "succeeded" and "error" are folded into
// these during normalization.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job can no longer change status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ActionSummary describes one step of a background action: a tool call,
// a plan operation, or a task operation. Order is 1-based.
type ActionSummary struct {
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Params   map[string]any `json:"params,omitempty"`
	Order    int            `json:"order"`
	Blocking bool           `json:"blocking,omitempty"`
	Status   string         `json:"status,omitempty"`
	Success  *bool          `json:"success,omitempty"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// ActionKey is the deduplication identity for an ActionSummary.
type ActionKey struct {
	Order int
	Kind  string
	Name  string
}

// Key returns the deduplication identity (order, kind, name).
func (a ActionSummary) Key() ActionKey {
	return ActionKey{Order: a.Order, Kind: a.Kind, Name: a.Name}
}

// ToolResult is one tool invocation outcome. Result holds the structured
// payload as delivered; Success is nil when the payload carried no
// success indicator.
type ToolResult struct {
	Name    string          `json:"name"`
	Result  json.RawMessage `json:"result,omitempty"`
	Success *bool           `json:"success,omitempty"`
}

// Meta is the mutable metadata bag attached to an assistant message.
type Meta struct {
	TrackingID   TrackingID      `json:"tracking_id,omitempty"`
	RetryOf      TrackingID      `json:"retry_of,omitempty"`
	AnalysisText string          `json:"analysis_text,omitempty"`
	FinalSummary string          `json:"final_summary,omitempty"`
	Actions      []ActionSummary `json:"actions,omitempty"`
	ToolResults  []ToolResult    `json:"tool_results,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
	Unified      bool            `json:"unified,omitempty"`

	// ContentRank records the authority of the source that last set the
	// message content, so a less authoritative snapshot can never replace
	// more authoritative text. Lower is more authoritative. In-memory
	// bookkeeping only; it is not part of the transcript schema.
	ContentRank int `json:"-"`
}

// Message is one transcript entry. Seq is the persisted numeric id
// assigned by the transcript store; 0 means not yet persisted.
type Message struct {
	ID        MessageID     `json:"id"`
	Seq       int64         `json:"seq,omitempty"`
	SessionID SessionID     `json:"session_id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Meta      Meta          `json:"meta"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Clone returns a copy safe to read while the original keeps being
// mutated under its writer's lock. Top-level Meta slices are copied;
// the payload bytes and maps inside entries are never mutated in place,
// only replaced wholesale, so sharing them is safe.
func (m *Message) Clone() *Message {
	c := *m
	c.Meta.Actions = append([]ActionSummary(nil), m.Meta.Actions...)
	c.Meta.ToolResults = append([]ToolResult(nil), m.Meta.ToolResults...)
	c.Meta.Errors = append([]string(nil), m.Meta.Errors...)
	return &c
}

// Snapshot is one observation of a background job's status and partial
// result, from either the push stream or the pull endpoint. Applying the
// same snapshot twice must not change observable state.
type Snapshot struct {
	TrackingID TrackingID     `json:"job_id"`
	Status     string         `json:"status"`
	PlanID     int64          `json:"plan_id,omitempty"`
	PlanTitle  string         `json:"plan_title,omitempty"`
	TaskID     int64          `json:"task_id,omitempty"`
	TaskName   string         `json:"task_name,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// SessionIndex is the per-session record kept in the session store.
// Plan and task fields are the derived session context.
type SessionIndex struct {
	SessionID  SessionID  `json:"session_id"`
	SessionKey SessionKey `json:"session_key"`
	Title      string     `json:"title,omitempty"`
	Status     string     `json:"status"`
	PlanID     int64      `json:"plan_id,omitempty"`
	PlanTitle  string     `json:"plan_title,omitempty"`
	TaskID     int64      `json:"task_id,omitempty"`
	TaskName   string     `json:"task_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSeq    int64      `json:"last_seq"`
}

// Turn is one entry of the recent-history window sent with a stream
// request.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamRequest initiates one streaming conversation turn.
type StreamRequest struct {
	SessionID SessionID      `json:"session_id"`
	Text      string         `json:"text"`
	History   []Turn         `json:"history,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// RetryResponse is the backend's answer to an action retry request: a
// fresh tracking id and the action set being re-run.
type RetryResponse struct {
	TrackingID TrackingID      `json:"job_id"`
	Actions    []ActionSummary `json:"actions,omitempty"`
}

// HistoryPage is one page of persisted messages, newest-last.
type HistoryPage struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"has_more"`
	NextBefore int64      `json:"next_before,omitempty"`
}
