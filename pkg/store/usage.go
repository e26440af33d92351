package store

import (
	"context"
	"database/sql"
	"strconv"
)

// UpsertStepUsage records the token counts of one step. Writing the same
// (conversation, run, step) key again replaces the previous values.
func (s *Store) UpsertStepUsage(ctx context.Context, usage StepUsage) (err error) {
	ctx, done := s.instrument(ctx, "upsert_step_usage", usage.ConversationID)
	defer func() { done(err) }()

	if err := usage.validate(); err != nil {
		return err
	}

	recordedAt := s.nowNanos()
	if !usage.RecordedAt.IsZero() {
		recordedAt = usage.RecordedAt.UTC().UnixNano()
	}

	lock := s.getWriteLock(usage.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	return s.withTx(ctx, "upsert step usage", func(tx *sql.Tx) error {
		if err := requireConversation(ctx, tx, usage.ConversationID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO step_usage (conversation_id, run_number, step_number, step_kind, input_tokens, output_tokens, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (conversation_id, run_number, step_number) DO UPDATE SET
				step_kind = excluded.step_kind,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				recorded_at = excluded.recorded_at`,
			usage.ConversationID, usage.RunNumber, usage.StepNumber, string(usage.Kind),
			usage.InputTokens, usage.OutputTokens, recordedAt,
		)
		return err
	})
}

// NextRunNumber returns one more than the highest recorded run, or 1.
func (s *Store) NextRunNumber(ctx context.Context, conversationID string) (next int, err error) {
	ctx, done := s.instrument(ctx, "next_run_number", conversationID)
	defer func() { done(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run_number), 0) + 1 FROM step_usage WHERE conversation_id = ?`,
		conversationID).Scan(&next)
	if err != nil {
		return 0, classify("get next run number", err)
	}
	return next, nil
}

// AggregateTokens sums usage over every run of a conversation.
func (s *Store) AggregateTokens(ctx context.Context, conversationID string) (totals TokenTotals, err error) {
	ctx, done := s.instrument(ctx, "aggregate_tokens", conversationID)
	defer func() { done(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0) FROM step_usage WHERE conversation_id = ?`,
		conversationID).Scan(&totals.Input, &totals.Output)
	if err != nil {
		return TokenTotals{}, classify("aggregate tokens", err)
	}
	return totals, nil
}

// RunTotals sums usage over the steps of one run.
func (s *Store) RunTotals(ctx context.Context, conversationID string, runNumber int) (totals RunTotals, err error) {
	ctx, done := s.instrument(ctx, "run_totals", conversationID)
	defer func() { done(err) }()

	var startedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), MIN(recorded_at)
		FROM step_usage WHERE conversation_id = ? AND run_number = ?`,
		conversationID, runNumber).Scan(&totals.Steps, &totals.Tokens.Input, &totals.Tokens.Output, &startedAt)
	if err != nil {
		return RunTotals{}, classify("get run totals", err)
	}
	totals.RunNumber = runNumber
	if startedAt.Valid {
		totals.StartedAt = fromNanos(startedAt.Int64)
	}
	return totals, nil
}

// ListRunTotals returns the per-run totals of a conversation in run order.
func (s *Store) ListRunTotals(ctx context.Context, conversationID string) (runs []RunTotals, err error) {
	ctx, done := s.instrument(ctx, "list_run_totals", conversationID)
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_number, COUNT(*), SUM(input_tokens), SUM(output_tokens), MIN(recorded_at)
		FROM step_usage WHERE conversation_id = ?
		GROUP BY run_number ORDER BY run_number`, conversationID)
	if err != nil {
		return nil, classify("list run totals", err)
	}
	defer rows.Close()

	runs = make([]RunTotals, 0)
	for rows.Next() {
		var (
			r         RunTotals
			startedAt int64
		)
		if err := rows.Scan(&r.RunNumber, &r.Steps, &r.Tokens.Input, &r.Tokens.Output, &startedAt); err != nil {
			return nil, classify("list run totals", err)
		}
		r.StartedAt = fromNanos(startedAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list run totals", err)
	}
	return runs, nil
}

// ListStepUsage returns the usage rows of one run in step order.
func (s *Store) ListStepUsage(ctx context.Context, conversationID string, runNumber int) (steps []StepUsage, err error) {
	ctx, done := s.instrument(ctx, "list_step_usage", conversationID+"#"+strconv.Itoa(runNumber))
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, run_number, step_number, step_kind, input_tokens, output_tokens, recorded_at
		FROM step_usage WHERE conversation_id = ? AND run_number = ? ORDER BY step_number`,
		conversationID, runNumber)
	if err != nil {
		return nil, classify("list step usage", err)
	}
	defer rows.Close()

	steps = make([]StepUsage, 0)
	for rows.Next() {
		var (
			u          StepUsage
			kind       string
			recordedAt int64
		)
		if err := rows.Scan(&u.ConversationID, &u.RunNumber, &u.StepNumber, &kind, &u.InputTokens, &u.OutputTokens, &recordedAt); err != nil {
			return nil, classify("list step usage", err)
		}
		u.Kind = StepKind(kind)
		u.RecordedAt = fromNanos(recordedAt)
		steps = append(steps, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list step usage", err)
	}
	return steps, nil
}
