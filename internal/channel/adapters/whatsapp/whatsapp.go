// Package whatsapp adapts the WhatsApp Cloud API to the channel contract.
// Inbound traffic is Meta webhook notifications; outbound replies go through
// the Graph API messages endpoint.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vionhq/vion/internal/channel"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v17.0"

// notification mirrors the Cloud API webhook shape. Status-only payloads
// (sent/delivered/read receipts) carry no messages and are ignored.
type notification struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []json.RawMessage `json:"statuses,omitempty"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages,omitempty"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Adapter implements channel.Adapter for WhatsApp.
type Adapter struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "whatsapp")),
		baseURL: defaultGraphBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.Type {
	return channel.TypeWhatsApp
}

// Normalize extracts the first text message from a webhook notification.
// Status receipts and non-text message types are ignored.
func (a *Adapter) Normalize(raw []byte) (channel.Inbound, bool, error) {
	var note notification
	if err := json.Unmarshal(raw, &note); err != nil {
		return channel.Inbound{}, false, fmt.Errorf("decode notification: %w", err)
	}
	for _, entry := range note.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Statuses) > 0 {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" {
					continue
				}
				text := strings.TrimSpace(msg.Text.Body)
				if text == "" || msg.From == "" {
					continue
				}
				receivedAt := time.Now().UTC()
				if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
					receivedAt = time.Unix(ts, 0).UTC()
				}
				return channel.Inbound{
					Channel:       channel.TypeWhatsApp,
					ParticipantID: msg.From,
					ReplyTarget:   msg.From,
					Text:          text,
					ExternalID:    msg.ID,
					ReceivedAt:    receivedAt,
				}, true, nil
			}
		}
	}
	return channel.Inbound{}, false, nil
}

// Dispatch sends a text message through the Graph API. The credential's
// external account id is the sending phone number id.
func (a *Adapter) Dispatch(ctx context.Context, cred channel.Credential, msg channel.Outbound) error {
	if !cred.Connected || cred.AuthSecret == "" || cred.ExternalAccountID == "" {
		return channel.ErrNotConnected
	}
	if msg.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.Target,
		"type":              "text",
		"text":              map[string]string{"body": msg.Text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := a.baseURL + "/" + cred.ExternalAccountID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AuthSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// ValidateCredential fetches the phone number object to confirm the access
// token and phone number id pair works.
func (a *Adapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	if strings.TrimSpace(cred.AuthSecret) == "" || strings.TrimSpace(cred.ExternalAccountID) == "" {
		return channel.Identity{}, fmt.Errorf("access token and phone number id are required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+cred.ExternalAccountID, nil)
	if err != nil {
		return channel.Identity{}, fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AuthSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return channel.Identity{}, fmt.Errorf("validate credential: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.Identity{}, fmt.Errorf("validate credential: status %d", resp.StatusCode)
	}

	var phone struct {
		ID                 string `json:"id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
		VerifiedName       string `json:"verified_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&phone); err != nil {
		return channel.Identity{}, fmt.Errorf("decode phone object: %w", err)
	}
	name := phone.VerifiedName
	if name == "" {
		name = phone.DisplayPhoneNumber
	}
	return channel.Identity{ExternalAccountID: phone.ID, DisplayName: name}, nil
}
