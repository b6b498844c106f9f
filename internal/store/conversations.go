package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var (
		c       Conversation
		started int64
		ended   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, counterpart_id, counterpart_name, message_count, started_at, ended_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.OwnerID, &c.CounterpartID, &c.CounterpartName, &c.MessageCount, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.StartedAt = fromUnix(started)
	if ended.Valid {
		t := fromUnix(ended.Int64)
		c.EndedAt = &t
	}
	return &c, nil
}

// RecentMessages returns up to limit of the latest messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, audio_ref, created_at FROM (
			SELECT seq, id, conversation_id, role, content, audio_ref, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.AudioRef, &created); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.CreatedAt = fromUnix(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendTurn writes the counterpart message and the persona reply in one
// transaction, creating the conversation on its first turn. Nothing is
// written when ctx is already done or the conversation belongs to another
// owner.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, turn Turn) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, counterpart_id, counterpart_name, message_count, started_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING`,
		conversationID, turn.Conversation.OwnerID, turn.Conversation.CounterpartID,
		turn.Conversation.CounterpartName, toUnix(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT owner_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner); err != nil {
		return nil, fmt.Errorf("load conversation owner: %w", err)
	}
	if owner != turn.Conversation.OwnerID {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrForeignConversation)
	}

	insert := `INSERT INTO messages (id, conversation_id, role, content, audio_ref, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), conversationID, string(RoleCounterpart), turn.Counterpart, "", toUnix(now)); err != nil {
		return nil, fmt.Errorf("insert counterpart message: %w", err)
	}
	replyAt := now.Add(time.Microsecond)
	if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), conversationID, string(RolePersona), turn.Persona, turn.AudioRef, toUnix(replyAt)); err != nil {
		return nil, fmt.Errorf("insert persona message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET message_count = message_count + 2 WHERE id = ?`, conversationID); err != nil {
		return nil, fmt.Errorf("update message count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetConversation(ctx, conversationID)
}

// EndConversation stamps ended_at; ending twice keeps the first timestamp.
func (s *Store) EndConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = COALESCE(ended_at, ?) WHERE id = ?`, toUnix(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
