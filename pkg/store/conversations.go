package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const conversationColumns = `id, title, status, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		conv      Conversation
		status    string
		active    int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.Title, &status, &active, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	conv.Status = Status(status)
	conv.Active = active != 0
	conv.CreatedAt = fromNanos(createdAt)
	conv.UpdatedAt = fromNanos(updatedAt)
	return conv, nil
}

// CreateConversation inserts a new idle conversation.
func (s *Store) CreateConversation(ctx context.Context, title string) (conv *Conversation, err error) {
	id := uuid.NewString()
	ctx, done := s.instrument(ctx, "create_conversation", id)
	defer func() { done(err) }()

	now := s.nowNanos()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, status, is_active, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, title, string(StatusIdle), now, now,
	)
	if err != nil {
		return nil, classify("create conversation", err)
	}

	return &Conversation{
		ID:        id,
		Title:     title,
		Status:    StatusIdle,
		CreatedAt: fromNanos(now),
		UpdatedAt: fromNanos(now),
	}, nil
}

// GetConversation loads a conversation with its ordered turns and agent state.
// It returns nil without error when the conversation does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (conv *Conversation, err error) {
	ctx, done := s.instrument(ctx, "get_conversation", id)
	defer func() { done(err) }()

	var state []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`, agent_state FROM conversations WHERE id = ?`, id)

	var (
		c         Conversation
		status    string
		active    int
		createdAt int64
		updatedAt int64
	)
	err = row.Scan(&c.ID, &c.Title, &status, &active, &createdAt, &updatedAt, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get conversation", err)
	}
	c.Status = Status(status)
	c.Active = active != 0
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	c.AgentState = state

	turns, err := s.listTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Turns = turns

	return &c, nil
}

// ListConversations returns every conversation, most recently updated first.
// Turns and agent state are not loaded.
func (s *Store) ListConversations(ctx context.Context) (convs []Conversation, err error) {
	ctx, done := s.instrument(ctx, "list_conversations", "")
	defer func() { done(err) }()

	return s.queryConversations(ctx, "list conversations",
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, created_at DESC`)
}

// ListByStatus returns conversations in the given status.
func (s *Store) ListByStatus(ctx context.Context, status Status) (convs []Conversation, err error) {
	ctx, done := s.instrument(ctx, "list_by_status", "")
	defer func() { done(err) }()

	return s.queryConversations(ctx, "list conversations by status",
		`SELECT `+conversationColumns+` FROM conversations WHERE status = ? ORDER BY updated_at DESC`, string(status))
}

func (s *Store) queryConversations(ctx context.Context, op, query string, args ...interface{}) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return convs, nil
}

// SaveAgentState overwrites the opaque agent state blob.
func (s *Store) SaveAgentState(ctx context.Context, id string, blob []byte) (err error) {
	ctx, done := s.instrument(ctx, "save_agent_state", id)
	defer func() { done(err) }()

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent_state = ?, updated_at = ? WHERE id = ?`, blob, s.nowNanos(), id)
	if err != nil {
		return classify("save agent state", err)
	}
	return classify("save agent state", expectAffected(res))
}

// SetStatus updates the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (err error) {
	ctx, done := s.instrument(ctx, "set_status", id)
	defer func() { done(err) }()

	if !status.Valid() {
		return fmt.Errorf("invalid status: %q", status)
	}

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, string(status), s.nowNanos(), id)
	if err != nil {
		return classify("set status", err)
	}
	return classify("set status", expectAffected(res))
}

// ResetIfRunning moves a running conversation back to idle. It reports
// false, without error, when the conversation exists but is not running.
func (s *Store) ResetIfRunning(ctx context.Context, id string) (reset bool, err error) {
	ctx, done := s.instrument(ctx, "reset_if_running", id)
	defer func() { done(err) }()

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusIdle), s.nowNanos(), id, string(StatusRunning))
	if err != nil {
		return false, classify("reset status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("reset status", err)
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, classify("reset status", err)
	}
	return false, nil
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) (err error) {
	ctx, done := s.instrument(ctx, "update_title", id)
	defer func() { done(err) }()

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title, s.nowNanos(), id)
	if err != nil {
		return classify("update title", err)
	}
	return classify("update title", expectAffected(res))
}

// SetActive marks id as the active conversation and clears the flag on all others.
func (s *Store) SetActive(ctx context.Context, id string) (err error) {
	ctx, done := s.instrument(ctx, "set_active", id)
	defer func() { done(err) }()

	return s.withTx(ctx, "set active conversation", func(tx *sql.Tx) error {
		if err := requireConversation(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET is_active = 0 WHERE is_active = 1 AND id <> ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET is_active = 1 WHERE id = ?`, id)
		return err
	})
}

// ActiveConversation returns the active conversation, or nil.
func (s *Store) ActiveConversation(ctx context.Context) (*Conversation, error) {
	return s.conversationWhere(ctx, "active conversation",
		`SELECT id FROM conversations WHERE is_active = 1 ORDER BY updated_at DESC LIMIT 1`)
}

// MostRecentConversation returns the most recently updated conversation, or nil.
func (s *Store) MostRecentConversation(ctx context.Context) (*Conversation, error) {
	return s.conversationWhere(ctx, "most recent conversation",
		`SELECT id FROM conversations ORDER BY updated_at DESC, created_at DESC LIMIT 1`)
}

func (s *Store) conversationWhere(ctx context.Context, op, query string) (*Conversation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var id string
	err := s.db.QueryRowContext(ctx, query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation with its turns and step usage.
func (s *Store) DeleteConversation(ctx context.Context, id string) (err error) {
	ctx, done := s.instrument(ctx, "delete_conversation", id)
	defer func() { done(err) }()

	lock := s.getWriteLock(id)
	lock.Lock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	lock.Unlock()
	if err != nil {
		return classify("delete conversation", err)
	}
	if err := expectAffected(res); err != nil {
		return classify("delete conversation", err)
	}

	s.releaseWriteLock(id)
	s.logger.Info().Str("conversation_id", id).Msg("Conversation deleted")
	return nil
}
