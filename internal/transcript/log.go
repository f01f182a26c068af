package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/deepchat/internal/types"
)

// MessageLog is a JSONL-backed message store. Messages are stored
// per-session in sessions/<sessionID>/messages.jsonl in append order;
// Seq is the 1-based line position at append time and doubles as the
// persisted numeric id used for history paging.
type MessageLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewMessageLog creates a file-backed MessageLog rooted at the given
// directory.
func NewMessageLog(root string) *MessageLog {
	return &MessageLog{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (l *MessageLog) getLock(sessionID types.SessionID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[sessionID] = lock
	return lock
}

func (l *MessageLog) logPath(sessionID types.SessionID) string {
	return filepath.Join(l.root, "sessions", string(sessionID), "messages.jsonl")
}

// readAll loads every message in the log. Caller must hold the session
// lock.
func (l *MessageLog) readAll(sessionID types.SessionID) ([]*types.Message, error) {
	f, err := os.Open(l.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	var msgs []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan message log: %w", err)
	}
	return msgs, nil
}

// writeAll rewrites the whole log atomically. Caller must hold the
// session lock.
func (l *MessageLog) writeAll(sessionID types.SessionID, msgs []*types.Message) error {
	path := l.logPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush temp log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp log: %w", err)
	}
	return nil
}

// Append adds a message to the session's log. A zero Seq is assigned the
// next sequence number; a non-zero Seq (from a history resync) is kept.
func (l *MessageLog) Append(_ context.Context, msg *types.Message) error {
	lock := l.getLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.readAll(msg.SessionID)
	if err != nil {
		return err
	}
	if msg.Seq == 0 {
		var max int64
		for _, m := range existing {
			if m.Seq > max {
				max = m.Seq
			}
		}
		msg.Seq = max + 1
	}

	path := l.logPath(msg.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Update rewrites the stored copy of the message, matched by ID.
func (l *MessageLog) Update(_ context.Context, msg *types.Message) error {
	lock := l.getLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := l.readAll(msg.SessionID)
	if err != nil {
		return err
	}
	found := false
	for i, m := range msgs {
		if m.ID == msg.ID {
			msgs[i] = msg
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message not found: %s", msg.ID)
	}
	return l.writeAll(msg.SessionID, msgs)
}

// Tail returns the last N messages for the given session.
func (l *MessageLog) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Message, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := l.readAll(sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Rewrite replaces the session's log with the given messages, used when
// resynchronizing from the backend's persisted history.
func (l *MessageLog) Rewrite(_ context.Context, sessionID types.SessionID, msgs []*types.Message) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return l.writeAll(sessionID, msgs)
}

// Count returns the number of messages for the given session.
func (l *MessageLog) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := l.readAll(sessionID)
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

// Clear removes the session's message log.
func (l *MessageLog) Clear(_ context.Context, sessionID types.SessionID) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(l.logPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove message log: %w", err)
	}
	return nil
}
