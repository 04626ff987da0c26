// Package channel provides a unified abstraction for the messaging surfaces
// a tenant's assistant is reachable on. It defines canonical inbound/outbound
// message types, the per-channel Adapter contract, and a registry.
package channel

import (
	"strings"
	"time"
)

// Type identifies a messaging surface (e.g. "web", "telegram").
type Type string

// String returns the channel type as a plain string.
func (t Type) String() string {
	return string(t)
}

const (
	// TypeWeb is the embedded widget. Inbound and outbound ride the same
	// HTTP exchange, so dispatch is a no-op.
	TypeWeb Type = "web"
	// TypeTelegram is the Telegram Bot API channel.
	TypeTelegram Type = "telegram"
	// TypeSlack is the Slack Events API channel (signed webhooks).
	TypeSlack Type = "slack"
	// TypeWhatsApp is the WhatsApp Cloud API channel.
	TypeWhatsApp Type = "whatsapp"
)

// Credential holds a tenant's connection to one channel. AuthSecret is the
// bot token or access token; SigningSecret doubles as the Slack signing
// secret and the WhatsApp webhook verify token; ExternalAccountID is the
// platform-side account (bot id, team id, phone number id).
type Credential struct {
	Connected         bool      `json:"connected"`
	AuthSecret        string    `json:"auth_secret"`
	SigningSecret     string    `json:"signing_secret,omitempty"`
	ExternalAccountID string    `json:"external_account_id,omitempty"`
	ConnectedAt       time.Time `json:"connected_at"`
}

// Identity is the platform-side identity discovered while validating a
// credential (bot username, team name, phone number).
type Identity struct {
	ExternalAccountID string `json:"external_account_id"`
	DisplayName       string `json:"display_name"`
}

// Inbound is a user-authored message normalized from a channel event.
type Inbound struct {
	Channel Type
	// ParticipantID identifies the external conversation partner and,
	// together with channel and tenant, derives the session identity.
	ParticipantID string
	// ReplyTarget is where an outbound reply must be delivered
	// (chat id, Slack channel id, phone number).
	ReplyTarget string
	Text        string
	// ExternalID is the platform's event/message id, used to de-duplicate
	// webhook retries. Empty when the platform provides none.
	ExternalID string
	// ThreadID carries a platform thread reference (Slack thread_ts).
	ThreadID   string
	ReceivedAt time.Time
}

// Outbound pairs a delivery target with reply text.
type Outbound struct {
	Target   string
	Text     string
	ThreadID string
}

// IsEmpty reports whether the outbound message carries no content.
func (o Outbound) IsEmpty() bool {
	return strings.TrimSpace(o.Text) == ""
}
