package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "ally/pkg/errors"
	"ally/pkg/metrics"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertPlatformUser(ctx context.Context, user *PlatformUser) (*PlatformUser, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()

	query := `
		INSERT INTO platform_users (id, platform, external_id, username, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
		ON CONFLICT (platform, external_id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	start := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Platform, user.ExternalID, user.Username, user.UserID, now,
	).Scan(&user.ID, &user.CreatedAt)
	observe("upsert_platform_user", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert platform user: %w", err)
	}
	user.UpdatedAt = now
	return user, nil
}

func (s *PostgresStore) UpsertSource(ctx context.Context, source *Source) (*Source, error) {
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	now := time.Now()

	query := `
		INSERT INTO sources (id, project_id, platform, channel_key, guild_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (project_id, platform, channel_key) DO UPDATE
		SET guild_id = COALESCE(EXCLUDED.guild_id, sources.guild_id)
		RETURNING id, created_at
	`

	start := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		source.ID, source.ProjectID, source.Platform, source.ChannelKey, source.GuildID, now,
	).Scan(&source.ID, &source.CreatedAt)
	observe("upsert_source", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert source: %w", err)
	}
	return source, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	query := `
		INSERT INTO messages (id, source_id, platform_user_id, external_id, content, thread_id, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		ON CONFLICT (source_id, external_id) DO UPDATE
		SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	start := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.SourceID, msg.PlatformUserID, msg.ExternalID,
		msg.Content, msg.ThreadID, msg.Deleted, msg.CreatedAt, msg.UpdatedAt,
	).Scan(&msg.ID, &msg.CreatedAt)
	observe("save_message", start, err)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "message references a missing source or user")
		}
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	query := `UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1`

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, messageID, content, time.Now())
	observe("update_message_content", start, err)
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not found", messageID))
	}
	return nil
}

func (s *PostgresStore) GetMessageByExternalID(ctx context.Context, sourceID, externalID string) (*Message, error) {
	query := `
		SELECT id, source_id, platform_user_id, external_id, content, COALESCE(thread_id, ''), deleted, created_at, updated_at
		FROM messages
		WHERE source_id = $1 AND external_id = $2
	`

	start := time.Now()
	var msg Message
	err := s.db.QueryRowContext(ctx, query, sourceID, externalID).Scan(
		&msg.ID, &msg.SourceID, &msg.PlatformUserID, &msg.ExternalID,
		&msg.Content, &msg.ThreadID, &msg.Deleted, &msg.CreatedAt, &msg.UpdatedAt,
	)
	observe("get_message_by_external_id", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not found in source %s", externalID, sourceID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

func (s *PostgresStore) MarkMessageDeleted(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET deleted = TRUE, updated_at = $2 WHERE id = $1`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, messageID, time.Now())
	observe("mark_message_deleted", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMessageThread(ctx context.Context, messageID, threadID string) error {
	query := `UPDATE messages SET thread_id = $2, updated_at = $3 WHERE id = $1`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, messageID, threadID, time.Now())
	observe("set_message_thread", start, err)
	if err != nil {
		return fmt.Errorf("failed to set message thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearMessageThread(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET thread_id = NULL, updated_at = $2 WHERE id = $1`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, messageID, time.Now())
	observe("clear_message_thread", start, err)
	if err != nil {
		return fmt.Errorf("failed to clear message thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessagesByThread(ctx context.Context, sourceID, threadID string) ([]Message, error) {
	query := `
		SELECT id, source_id, platform_user_id, external_id, content, COALESCE(thread_id, ''), deleted, created_at, updated_at
		FROM messages
		WHERE source_id = $1 AND thread_id = $2
		ORDER BY created_at ASC
	`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, sourceID, threadID)
	observe("get_messages_by_thread", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.SourceID, &msg.PlatformUserID, &msg.ExternalID,
			&msg.Content, &msg.ThreadID, &msg.Deleted, &msg.CreatedAt, &msg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) SaveMessageDetail(ctx context.Context, detail *MessageDetail) error {
	query := `
		INSERT INTO message_details (message_id, platform, detail, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO UPDATE SET detail = EXCLUDED.detail
	`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, detail.MessageID, detail.Platform, []byte(detail.Detail), time.Now())
	observe("save_message_detail", start, err)
	if err != nil {
		return fmt.Errorf("failed to save message detail: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddMessageRelation(ctx context.Context, rel *MessageRelation) error {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}

	query := `
		INSERT INTO message_relations (id, message_id, related_id, relation_kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, related_id, relation_kind) DO NOTHING
	`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, rel.ID, rel.MessageID, rel.RelatedID, rel.RelationKind, time.Now())
	observe("add_message_relation", start, err)
	if err != nil {
		return fmt.Errorf("failed to add message relation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, score *Score) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.CreatedAt.IsZero() {
		score.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO scores (id, message_id, kind, value, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		score.ID, score.MessageID, score.Kind, score.Value, []byte(score.Details), score.CreatedAt,
	)
	observe("save_score", start, err)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScoresByMessage(ctx context.Context, messageID string) ([]Score, error) {
	query := `
		SELECT id, message_id, kind, value, details, created_at
		FROM scores
		WHERE message_id = $1
		ORDER BY created_at DESC
	`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, messageID)
	observe("get_scores_by_message", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var sc Score
		var details []byte
		if err := rows.Scan(&sc.ID, &sc.MessageID, &sc.Kind, &sc.Value, &details, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		sc.Details = details
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) AddReaction(ctx context.Context, reaction *Reaction) error {
	if reaction.ID == "" {
		reaction.ID = uuid.New().String()
	}
	if reaction.Weight == 0 {
		reaction.Weight = 1.0
	}

	query := `
		INSERT INTO reactions (id, message_id, platform_user_id, kind, weight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, platform_user_id, kind) DO UPDATE SET weight = EXCLUDED.weight
	`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		reaction.ID, reaction.MessageID, reaction.PlatformUserID, reaction.Kind, reaction.Weight, time.Now(),
	)
	observe("add_reaction", start, err)
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, platformUserID, kind string) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND platform_user_id = $2 AND kind = $3`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, messageID, platformUserID, kind)
	observe("remove_reaction", start, err)
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveReactionsByKind(ctx context.Context, messageID, kind string) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND kind = $2`

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, messageID, kind)
	observe("remove_reactions_by_kind", start, err)
	if err != nil {
		return fmt.Errorf("failed to remove reactions: %w", err)
	}
	return nil
}

func observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("postgres", operation, time.Since(start))
}
