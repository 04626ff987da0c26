package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vionhq/vion/internal/channel"
	dbpkg "github.com/vionhq/vion/internal/db"
)

// Store persists sessions and their message history in Postgres. Appends are
// plain inserts, so concurrent writers never overwrite each other's messages.
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
		logger: log.With(slog.String("service", "session")),
	}
}

// Ensure returns the session for a key, creating it if it does not exist.
// The reported bool is true when this call created the session.
func (s *Store) Ensure(ctx context.Context, key Key) (Session, bool, error) {
	if err := key.Validate(); err != nil {
		return Session{}, false, err
	}

	id, err := dbpkg.ParseUUID(key.SessionID())
	if err != nil {
		return Session{}, false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, channel, participant_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel, tenant_id, participant_id) DO NOTHING`,
		id, key.TenantID, string(key.Channel), key.ParticipantID,
	)
	if err != nil {
		return Session{}, false, fmt.Errorf("create session: %w", err)
	}
	created := tag.RowsAffected() > 0

	sess, err := s.Get(ctx, key.SessionID())
	if err != nil {
		return Session{}, false, err
	}
	if created {
		s.logger.Info("session created",
			slog.String("session_id", sess.ID),
			slog.String("channel", sess.Channel.String()),
			slog.String("tenant_id", sess.TenantID))
	}
	return sess, created, nil
}

// Get loads a session by id. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	id, err := dbpkg.ParseUUID(sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var (
		rowID  pgtype.UUID
		sess   Session
		chType string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel, participant_id, is_paused, created_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&rowID, &sess.TenantID, &chType, &sess.ParticipantID, &sess.Paused, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.ID = uuid.UUID(rowID.Bytes).String()
	sess.Channel = channel.Type(chType)
	return sess, nil
}

// History returns the most recent limit messages in chronological order.
// limit <= 0 returns the full history.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	id, err := dbpkg.ParseUUID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	query := `
		SELECT id, session_id, seq, role, content, is_human, sentiment, external_id, created_at
		FROM session_messages WHERE session_id = $1 ORDER BY seq ASC`
	args := []any{id}
	if limit > 0 {
		query = `
		SELECT id, session_id, seq, role, content, is_human, sentiment, external_id, created_at
		FROM (
			SELECT id, session_id, seq, role, content, is_human, sentiment, external_id, created_at
			FROM session_messages WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Append adds a message to a session's history. When the message carries an
// external id already present in the session, the insert is a no-op and the
// reported bool is false; webhook retries rely on this.
func (s *Store) Append(ctx context.Context, msg Message) (Message, bool, error) {
	sessionID, err := dbpkg.ParseUUID(msg.SessionID)
	if err != nil {
		return Message{}, false, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msgID, err := dbpkg.ParseUUID(msg.ID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid message id: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, is_human, sentiment, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, external_id) WHERE external_id IS NOT NULL DO NOTHING
		RETURNING seq, created_at`,
		msgID, sessionID, string(msg.Role), msg.Content, msg.IsHuman,
		dbpkg.ToText(msg.Sentiment), dbpkg.ToText(msg.ExternalID),
	).Scan(&msg.Seq, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Debug("duplicate message ignored",
			slog.String("session_id", msg.SessionID),
			slog.String("external_id", msg.ExternalID))
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("append message: %w", err)
	}
	return msg, true, nil
}

// SetPaused sets the pause flag and returns the previous state. Setting the
// flag to its current value is a no-op aside from the returned state.
func (s *Store) SetPaused(ctx context.Context, sessionID string, paused bool) (bool, error) {
	id, err := dbpkg.ParseUUID(sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var prev bool
	err = s.pool.QueryRow(ctx, `
		WITH prev AS (SELECT is_paused FROM sessions WHERE id = $1)
		UPDATE sessions SET is_paused = $2 WHERE id = $1
		RETURNING (SELECT is_paused FROM prev)`,
		id, paused,
	).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("set paused: %w", err)
	}
	return prev, nil
}

// TogglePause flips the pause flag and returns the new state.
func (s *Store) TogglePause(ctx context.Context, sessionID string) (bool, error) {
	id, err := dbpkg.ParseUUID(sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var paused bool
	err = s.pool.QueryRow(ctx, `
		UPDATE sessions SET is_paused = NOT is_paused WHERE id = $1
		RETURNING is_paused`, id,
	).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle pause: %w", err)
	}
	return paused, nil
}

// SetSentiment records the classified sentiment of a stored message.
func (s *Store) SetSentiment(ctx context.Context, messageID, sentiment string) error {
	id, err := dbpkg.ParseUUID(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE session_messages SET sentiment = $2 WHERE id = $1`,
		id, dbpkg.ToText(sentiment),
	)
	if err != nil {
		return fmt.Errorf("set sentiment: %w", err)
	}
	return nil
}

func scanMessage(rows pgx.Rows) (Message, error) {
	var (
		msg        Message
		msgID      pgtype.UUID
		sessionID  pgtype.UUID
		role       string
		sentiment  pgtype.Text
		externalID pgtype.Text
	)
	err := rows.Scan(&msgID, &sessionID, &msg.Seq, &role, &msg.Content,
		&msg.IsHuman, &sentiment, &externalID, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg.ID = uuid.UUID(msgID.Bytes).String()
	msg.SessionID = uuid.UUID(sessionID.Bytes).String()
	msg.Role = Role(role)
	msg.Sentiment = dbpkg.TextToString(sentiment)
	msg.ExternalID = dbpkg.TextToString(externalID)
	return msg, nil
}
