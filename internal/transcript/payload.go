package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/deepchat/internal/types"
)

// payloadWrapper is the on-disk format for offloaded tool payloads.
type payloadWrapper struct {
	ID        types.PayloadID  `json:"id"`
	SessionID types.SessionID  `json:"session_id"`
	Tracking  types.TrackingID `json:"tracking_id"`
	Tool      string           `json:"tool"`
	CreatedAt time.Time        `json:"created_at"`
	Data      json.RawMessage  `json:"data"`
}

// PayloadStore keeps large tool-result payloads out of the transcript.
// Each payload is an individual JSON file at
// sessions/<sessionID>/payloads/<payloadID>.json; the transcript stores
// only the id.
type PayloadStore struct {
	root string
}

// NewPayloadStore creates a file-backed PayloadStore rooted at the given
// directory.
func NewPayloadStore(root string) *PayloadStore {
	return &PayloadStore{root: root}
}

func (p *PayloadStore) payloadsDir(sessionID types.SessionID) string {
	return filepath.Join(p.root, "sessions", string(sessionID), "payloads")
}

func (p *PayloadStore) payloadPath(sessionID types.SessionID, id types.PayloadID) string {
	return filepath.Join(p.payloadsDir(sessionID), string(id)+".json")
}

// Put stores a payload and returns its id.
func (p *PayloadStore) Put(_ context.Context, sessionID types.SessionID, tracking types.TrackingID, tool string, data any) (types.PayloadID, error) {
	id := types.NewPayloadID()

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal payload data: %w", err)
	}

	wrapper := &payloadWrapper{
		ID:        id,
		SessionID: sessionID,
		Tracking:  tracking,
		Tool:      tool,
		CreatedAt: time.Now(),
		Data:      raw,
	}
	content, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal payload wrapper: %w", err)
	}

	if err := os.MkdirAll(p.payloadsDir(sessionID), 0o755); err != nil {
		return "", fmt.Errorf("create payloads dir: %w", err)
	}
	if err := os.WriteFile(p.payloadPath(sessionID, id), content, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return id, nil
}

// Get returns the payload data by id, searching across sessions.
func (p *PayloadStore) Get(_ context.Context, id types.PayloadID) (json.RawMessage, error) {
	pattern := filepath.Join(p.root, "sessions", "*", "payloads", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob payload: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("payload not found: %s", id)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read payload file: %w", err)
	}
	var wrapper payloadWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return wrapper.Data, nil
}
