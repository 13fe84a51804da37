package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

// ReadStateRepository derives per-user unread counts and records read
// receipts. Unread counts are never stored; they are recomputed on every
// read so concurrent sends and reads cannot leave a stale counter behind.
type ReadStateRepository interface {
	UnreadCount(ctx context.Context, conversationID string, userID string) (int, error)
	MarkMessagesAsRead(ctx context.Context, conversationID string, userID string, messageIDs []string) ([]models.StatusChange, error)
}

// ReadStateRepo is a sqlx implementation of ReadStateRepository.
type ReadStateRepo struct {
	db *sqlx.DB
}

// NewReadStateRepo constructs a ReadStateRepo.
func NewReadStateRepo(db *sqlx.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

// UnreadCount computes the unread message count for a user in a
// conversation. The watermark is the later of two sources: the sent_at of
// the user's last-read message and the sent_at of the user's own most
// recent message. Sending counts as an implicit read of everything up to
// and including the sent message, so a user's own messages never inflate
// their own badge even when mark-as-read arrives out of order.
func (r *ReadStateRepo) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	var lastRead sql.NullTime
	err := r.db.GetContext(ctx, &lastRead,
		`SELECT m.sent_at
         FROM conversation_settings cs
         JOIN messages m ON m.id = cs.last_read_message_id
         WHERE cs.conversation_id=$1 AND cs.user_id=$2`,
		conversationID, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var lastSelfSent sql.NullTime
	if err := r.db.GetContext(ctx, &lastSelfSent,
		`SELECT MAX(sent_at) FROM messages
         WHERE conversation_id=$1 AND sender_id=$2 AND is_deleted=FALSE`,
		conversationID, userID); err != nil {
		return 0, err
	}

	watermark := watermarkTime(lastRead, lastSelfSent)

	var count int
	if watermark.Valid {
		err = r.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM messages
             WHERE conversation_id=$1 AND is_deleted=FALSE AND sender_id<>$2 AND sent_at > $3`,
			conversationID, userID, watermark.Time)
	} else {
		err = r.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM messages
             WHERE conversation_id=$1 AND is_deleted=FALSE AND sender_id<>$2`,
			conversationID, userID)
	}
	return count, err
}

// MarkMessagesAsRead records read receipts for the given message ids,
// flips SENT messages to READ once anyone besides the sender has read
// them, and advances the caller's watermark. Already-receipted ids and ids
// outside the conversation are silently skipped, so repeated calls are
// no-ops. Runs as one transaction. Returns the messages whose status
// actually changed, annotated with their new read-by count.
func (r *ReadStateRepo) MarkMessagesAsRead(ctx context.Context, conversationID string, userID string, messageIDs []string) ([]models.StatusChange, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var isParticipant bool
	if err := tx.GetContext(ctx, &isParticipant,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID); err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, ErrNotParticipant
	}

	rows, err := tx.QueryxContext(ctx,
		`INSERT INTO message_read_receipts (message_id, user_id)
         SELECT id, $2 FROM messages WHERE id = ANY($3) AND conversation_id = $1
         ON CONFLICT (message_id, user_id) DO NOTHING
         RETURNING message_id`,
		conversationID, userID, pq.Array(messageIDs))
	if err != nil {
		return nil, err
	}
	var newlyRead []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		newlyRead = append(newlyRead, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var changes []models.StatusChange
	if len(newlyRead) > 0 {
		if err := tx.SelectContext(ctx, &changes,
			`UPDATE messages m SET status=$2
             WHERE m.id = ANY($1) AND m.status <> $2
               AND EXISTS (
                   SELECT 1 FROM message_read_receipts r
                   WHERE r.message_id = m.id AND r.user_id <> m.sender_id
               )
             RETURNING m.id, m.sender_id, m.status,
               (SELECT COUNT(*) FROM message_read_receipts r2
                WHERE r2.message_id = m.id AND r2.user_id <> m.sender_id) AS read_by_count`,
			pq.Array(newlyRead), models.StatusRead); err != nil {
			return nil, err
		}
	}

	// Advance the watermark to the most recent of the marked messages,
	// never backward.
	var latest struct {
		ID     string    `db:"id"`
		SentAt time.Time `db:"sent_at"`
	}
	err = tx.GetContext(ctx, &latest,
		`SELECT id, sent_at FROM messages
         WHERE id = ANY($1) AND conversation_id=$2
         ORDER BY sent_at DESC LIMIT 1`,
		pq.Array(messageIDs), conversationID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		if err := advanceWatermarkTx(ctx, tx, conversationID, userID, latest.ID, latest.SentAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// watermarkTime picks the later of the two watermark sources. Either or
// both may be absent.
func watermarkTime(lastRead, lastSelfSent sql.NullTime) sql.NullTime {
	switch {
	case lastRead.Valid && lastSelfSent.Valid:
		if lastSelfSent.Time.After(lastRead.Time) {
			return lastSelfSent
		}
		return lastRead
	case lastRead.Valid:
		return lastRead
	default:
		return lastSelfSent
	}
}

// shouldAdvance reports whether a watermark at current may move to
// candidate. The watermark is monotonic: it never moves backward.
func shouldAdvance(current sql.NullTime, candidate time.Time) bool {
	return !current.Valid || candidate.After(current.Time)
}

// advanceWatermarkTx moves the user's last-read watermark to messageID if
// that message is newer than the current watermark, creating the settings
// row lazily. Shared by read-marking and message creation, both of which
// run it inside their own transaction.
func advanceWatermarkTx(ctx context.Context, tx *sqlx.Tx, conversationID string, userID string, messageID string, sentAt time.Time) error {
	var current sql.NullTime
	err := tx.GetContext(ctx, &current,
		`SELECT m.sent_at
         FROM conversation_settings cs
         JOIN messages m ON m.id = cs.last_read_message_id
         WHERE cs.conversation_id=$1 AND cs.user_id=$2`,
		conversationID, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if !shouldAdvance(current, sentAt) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_settings (user_id, conversation_id)
             VALUES ($1, $2)
             ON CONFLICT (user_id, conversation_id) DO NOTHING`,
			userID, conversationID)
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_settings (user_id, conversation_id, last_read_message_id)
         VALUES ($1, $2, $3)
         ON CONFLICT (user_id, conversation_id) DO UPDATE
         SET last_read_message_id = EXCLUDED.last_read_message_id, updated_at = NOW()`,
		userID, conversationID, messageID)
	return err
}
