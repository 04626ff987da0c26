// Package session stores conversation state: one session per
// (channel, tenant, participant) triple plus its ordered message history.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vionhq/vion/internal/channel"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Role labels who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// sessionNamespace is the fixed UUIDv5 namespace for session id derivation.
// Changing it orphans every existing session row.
var sessionNamespace = uuid.MustParse("9f2c1b44-7a1e-4b6f-8d2a-3c5e9a0f6d71")

// Key identifies a session by its conversation coordinates. Session ids are
// derived from the key, so the same participant on the same channel always
// lands in the same session.
type Key struct {
	Channel       channel.Type
	TenantID      string
	ParticipantID string
}

// Validate checks that every coordinate is present.
func (k Key) Validate() error {
	if k.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(k.ParticipantID) == "" {
		return fmt.Errorf("participant id is required")
	}
	return nil
}

// SessionID derives the deterministic UUIDv5 session id for this key.
// The coordinates are NUL-joined so no pair of keys can collide by
// concatenation.
func (k Key) SessionID() string {
	name := string(k.Channel) + "\x00" + k.TenantID + "\x00" + k.ParticipantID
	return uuid.NewSHA1(sessionNamespace, []byte(name)).String()
}

// Session is one conversation between a participant and a tenant's assistant.
type Session struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Channel       channel.Type `json:"channel"`
	ParticipantID string       `json:"participant_id"`
	Paused        bool         `json:"paused"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Message is one entry in a session's history. Seq is assigned by the store
// and defines the canonical ordering. IsHuman marks operator-authored
// assistant messages.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	IsHuman    bool      `json:"is_human"`
	Sentiment  string    `json:"sentiment,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
