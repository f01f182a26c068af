package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type SessionID string
type MessageID string
type TrackingID string
type PayloadID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewPayloadID() PayloadID {
	return PayloadID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}
