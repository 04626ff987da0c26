// Package tenant stores per-tenant channel credentials.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vionhq/vion/internal/channel"
	dbpkg "github.com/vionhq/vion/internal/db"
)

// ErrNoCredential is returned when a tenant has not connected a channel.
var ErrNoCredential = errors.New("no credential for tenant channel")

// Store persists channel credentials keyed by (tenant, channel).
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "tenant")),
	}
}

// Credential loads a tenant's credential for one channel.
func (s *Store) Credential(ctx context.Context, tenantID string, ch channel.Type) (channel.Credential, error) {
	var (
		cred       channel.Credential
		signing    pgtype.Text
		externalID pgtype.Text
	)
	err := s.pool.QueryRow(ctx, `
		SELECT connected, auth_secret, signing_secret, external_account_id, connected_at
		FROM tenant_channels WHERE tenant_id = $1 AND channel = $2`,
		tenantID, string(ch),
	).Scan(&cred.Connected, &cred.AuthSecret, &signing, &externalID, &cred.ConnectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return channel.Credential{}, ErrNoCredential
	}
	if err != nil {
		return channel.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	cred.SigningSecret = dbpkg.TextToString(signing)
	cred.ExternalAccountID = dbpkg.TextToString(externalID)
	return cred, nil
}

// SaveCredential upserts a tenant's credential for one channel.
func (s *Store) SaveCredential(ctx context.Context, tenantID string, ch channel.Type, cred channel.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_channels (tenant_id, channel, connected, auth_secret, signing_secret, external_account_id, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, channel) DO UPDATE SET
			connected = EXCLUDED.connected,
			auth_secret = EXCLUDED.auth_secret,
			signing_secret = EXCLUDED.signing_secret,
			external_account_id = EXCLUDED.external_account_id,
			connected_at = EXCLUDED.connected_at`,
		tenantID, string(ch), cred.Connected, cred.AuthSecret,
		dbpkg.ToText(cred.SigningSecret), dbpkg.ToText(cred.ExternalAccountID),
		cred.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.logger.Info("credential saved",
		slog.String("tenant_id", tenantID),
		slog.String("channel", ch.String()),
		slog.Bool("connected", cred.Connected))
	return nil
}

// Disconnect marks a tenant's channel as disconnected without discarding the
// stored secrets.
func (s *Store) Disconnect(ctx context.Context, tenantID string, ch channel.Type) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_channels SET connected = false WHERE tenant_id = $1 AND channel = $2`,
		tenantID, string(ch),
	)
	if err != nil {
		return fmt.Errorf("disconnect channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoCredential
	}
	return nil
}
