package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendTurn appends an immutable turn and bumps the conversation's updated_at.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, role Role, content string) (turn *Turn, err error) {
	ctx, done := s.instrument(ctx, "append_turn", conversationID)
	defer func() { done(err) }()

	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	lock := s.getWriteLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	now := s.nowNanos()
	var id int64
	err = s.withTx(ctx, "append turn", func(tx *sql.Tx) error {
		if err := requireConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, string(role), content, now)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Turn{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      fromNanos(now),
	}, nil
}

// ListTurns returns the turns of a conversation in timestamp order.
func (s *Store) ListTurns(ctx context.Context, conversationID string) (turns []Turn, err error) {
	ctx, done := s.instrument(ctx, "list_turns", conversationID)
	defer func() { done(err) }()

	return s.listTurns(ctx, conversationID)
}

func (s *Store) listTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM turns WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, classify("list turns", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var (
			t    Turn
			role string
			ts   int64
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &role, &t.Content, &ts); err != nil {
			return nil, classify("list turns", err)
		}
		t.Role = Role(role)
		t.Timestamp = fromNanos(ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list turns", err)
	}
	return turns, nil
}
