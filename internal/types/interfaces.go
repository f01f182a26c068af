package types

import (
	"context"
	"encoding/json"
	"io"
)

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	Delete(ctx context.Context, id SessionID) error
}

type TranscriptStore interface {
	Append(ctx context.Context, msg *Message) error
	Update(ctx context.Context, msg *Message) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Message, error)
	Rewrite(ctx context.Context, sessionID SessionID, msgs []*Message) error
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	Clear(ctx context.Context, sessionID SessionID) error
}

type PayloadStore interface {
	Put(ctx context.Context, sessionID SessionID, tracking TrackingID, tool string, data any) (PayloadID, error)
	Get(ctx context.Context, id PayloadID) (json.RawMessage, error)
}

// Backend is the opaque HTTP boundary to the agent service. OpenStream
// returns the raw event stream body; the caller owns closing it.
type Backend interface {
	OpenStream(ctx context.Context, req *StreamRequest) (io.ReadCloser, error)
	JobStatus(ctx context.Context, id TrackingID) (*Snapshot, error)
	RetryJob(ctx context.Context, id TrackingID) (*RetryResponse, error)
	History(ctx context.Context, sessionID SessionID, before int64, limit int) (*HistoryPage, error)
}
