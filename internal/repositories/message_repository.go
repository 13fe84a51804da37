package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

// MessageCreate is the input for creating a message.
type MessageCreate struct {
	ConversationID   string
	SenderID         string
	Content          string
	MessageType      string
	ReplyToMessageID string
	ClientMessageID  string
}

// MessageRepository owns the message lifecycle, reactions and listing.
type MessageRepository interface {
	Create(ctx context.Context, input MessageCreate) (models.Message, error)
	Get(ctx context.Context, messageID string, userID string) (models.Message, error)
	Update(ctx context.Context, messageID string, content string, actingUserID string) (models.Message, error)
	Delete(ctx context.Context, messageID string, actingUserID string) (models.Message, error)
	AddReaction(ctx context.Context, messageID string, userID string, emoji string) (models.MessageReaction, error)
	RemoveReaction(ctx context.Context, messageID string, userID string, emoji string) error
	List(ctx context.Context, conversationID string, userID string, page int, perPage int, beforeMessageID string) (models.MessagePage, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, reply_to_message_id, content, message_type, status, is_deleted, is_edited, sent_at, edited_at, deleted_at, client_message_id`

// Create persists a message, bumps the conversation's last-message
// timestamp and advances the sender's own watermark, all in one
// transaction. Sending is an implicit read of the sent message, so the
// sender's unread badge never counts their own messages.
func (r *MessageRepo) Create(ctx context.Context, input MessageCreate) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var isParticipant bool
	if err := tx.GetContext(ctx, &isParticipant,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		input.ConversationID, input.SenderID); err != nil {
		return models.Message{}, err
	}
	if !isParticipant {
		return models.Message{}, ErrNotParticipant
	}

	if input.ReplyToMessageID != "" {
		var replyExists bool
		if err := tx.GetContext(ctx, &replyExists,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND conversation_id=$2)`,
			input.ReplyToMessageID, input.ConversationID); err != nil {
			return models.Message{}, err
		}
		if !replyExists {
			return models.Message{}, ErrMessageNotFound
		}
	}

	messageType := input.MessageType
	if messageType == "" {
		messageType = "text"
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, reply_to_message_id, content, message_type, status, client_message_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING `+messageColumns,
		uuid.NewString(), input.ConversationID, input.SenderID,
		emptyToNull(input.ReplyToMessageID), input.Content, messageType,
		models.StatusSent, emptyToNull(input.ClientMessageID),
	).StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at=$2 WHERE id=$1`,
		input.ConversationID, msg.SentAt); err != nil {
		return models.Message{}, err
	}

	if err := advanceWatermarkTx(ctx, tx, input.ConversationID, input.SenderID, msg.ID, msg.SentAt); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Get fetches a single message with its read-by count, reply preview,
// attachments and reactions. Requires the caller be a participant.
func (r *MessageRepo) Get(ctx context.Context, messageID string, userID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+prefixedMessageColumns+`,
           (SELECT COUNT(*) FROM message_read_receipts r
            WHERE r.message_id = m.id AND r.user_id <> m.sender_id) AS read_by_count
         FROM messages m WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var isParticipant bool
	if err := r.db.GetContext(ctx, &isParticipant,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		msg.ConversationID, userID); err != nil {
		return models.Message{}, err
	}
	if !isParticipant {
		return models.Message{}, ErrNotParticipant
	}

	msgs := []models.Message{msg}
	if err := r.loadRelations(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// Update edits message content. Sender only; deleted messages read as
// missing.
func (r *MessageRepo) Update(ctx context.Context, messageID string, content string, actingUserID string) (models.Message, error) {
	msg, err := r.getRaw(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.SenderID != actingUserID {
		return models.Message{}, ErrForbidden
	}

	var updated models.Message
	err = r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$2, is_edited=TRUE, edited_at=NOW()
         WHERE id=$1
         RETURNING `+messageColumns, messageID, content).StructScan(&updated)
	return updated, err
}

// Delete soft-deletes a message: content is retained but hidden from
// normal reads. Permitted for the sender or a conversation
// admin/moderator.
func (r *MessageRepo) Delete(ctx context.Context, messageID string, actingUserID string) (models.Message, error) {
	msg, err := r.getRaw(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, ErrMessageNotFound
	}

	if msg.SenderID != actingUserID {
		var role models.Role
		err := r.db.GetContext(ctx, &role,
			`SELECT role FROM participants WHERE conversation_id=$1 AND user_id=$2`,
			msg.ConversationID, actingUserID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, ErrNotParticipant
		}
		if err != nil {
			return models.Message{}, err
		}
		if !role.CanManageParticipants() {
			return models.Message{}, ErrForbidden
		}
	}

	var deleted models.Message
	err = r.db.QueryRowxContext(ctx,
		`UPDATE messages SET is_deleted=TRUE, deleted_at=NOW()
         WHERE id=$1
         RETURNING `+messageColumns, messageID).StructScan(&deleted)
	return deleted, err
}

// AddReaction records an emoji reaction. Duplicate (message, user, emoji)
// triples hit the unique constraint and surface as conflicts.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID string, userID string, emoji string) (models.MessageReaction, error) {
	msg, err := r.getRaw(ctx, messageID)
	if err != nil {
		return models.MessageReaction{}, err
	}
	if msg.IsDeleted {
		return models.MessageReaction{}, ErrMessageNotFound
	}

	var isParticipant bool
	if err := r.db.GetContext(ctx, &isParticipant,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		msg.ConversationID, userID); err != nil {
		return models.MessageReaction{}, err
	}
	if !isParticipant {
		return models.MessageReaction{}, ErrNotParticipant
	}

	var reaction models.MessageReaction
	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO message_reactions (id, message_id, user_id, emoji)
         VALUES ($1, $2, $3, $4)
         RETURNING id, message_id, user_id, emoji, created_at`,
		uuid.NewString(), messageID, userID, emoji).StructScan(&reaction)
	if isUniqueViolation(err) {
		return models.MessageReaction{}, ErrDuplicateReaction
	}
	return reaction, err
}

// RemoveReaction deletes a reaction row.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID string, userID string, emoji string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrReactionNotFound
	}
	return nil
}

// List returns non-deleted messages newest-first with pagination. An
// optional beforeMessageID cursor restricts results to messages strictly
// older than that message; an unknown cursor applies no filter.
func (r *MessageRepo) List(ctx context.Context, conversationID string, userID string, page int, perPage int, beforeMessageID string) (models.MessagePage, error) {
	var isParticipant bool
	if err := r.db.GetContext(ctx, &isParticipant,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID); err != nil {
		return models.MessagePage{}, err
	}
	if !isParticipant {
		return models.MessagePage{}, ErrNotParticipant
	}

	page, perPage = clampPage(page, perPage)
	offset := (page - 1) * perPage

	var before sql.NullTime
	if beforeMessageID != "" {
		err := r.db.GetContext(ctx, &before,
			`SELECT sent_at FROM messages WHERE id=$1`, beforeMessageID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.MessagePage{}, err
		}
	}

	selectClause := `SELECT ` + prefixedMessageColumns + `,
           (SELECT COUNT(*) FROM message_read_receipts r
            WHERE r.message_id = m.id AND r.user_id <> m.sender_id) AS read_by_count
         FROM messages m`

	var (
		total    int
		messages []models.Message
		err      error
	)
	if before.Valid {
		if err = r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM messages m
             WHERE m.conversation_id=$1 AND m.is_deleted=FALSE AND m.sent_at < $2`,
			conversationID, before.Time); err != nil {
			return models.MessagePage{}, err
		}
		err = r.db.SelectContext(ctx, &messages,
			selectClause+`
             WHERE m.conversation_id=$1 AND m.is_deleted=FALSE AND m.sent_at < $2
             ORDER BY m.sent_at DESC
             OFFSET $3 LIMIT $4`,
			conversationID, before.Time, offset, perPage)
	} else {
		if err = r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM messages m
             WHERE m.conversation_id=$1 AND m.is_deleted=FALSE`,
			conversationID); err != nil {
			return models.MessagePage{}, err
		}
		err = r.db.SelectContext(ctx, &messages,
			selectClause+`
             WHERE m.conversation_id=$1 AND m.is_deleted=FALSE
             ORDER BY m.sent_at DESC
             OFFSET $2 LIMIT $3`,
			conversationID, offset, perPage)
	}
	if err != nil {
		return models.MessagePage{}, err
	}

	if err := r.loadRelations(ctx, messages); err != nil {
		return models.MessagePage{}, err
	}

	return models.MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
		HasMore:  offset+len(messages) < total,
	}, nil
}

const prefixedMessageColumns = `m.id, m.conversation_id, m.sender_id, m.reply_to_message_id, m.content, m.message_type, m.status, m.is_deleted, m.is_edited, m.sent_at, m.edited_at, m.deleted_at, m.client_message_id`

func (r *MessageRepo) getRaw(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// loadRelations attaches reply previews, attachments and reactions to a
// page of messages. Reply previews are resolved by a single bounded
// lookup of parent ids, never by recursive traversal.
func (r *MessageRepo) loadRelations(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	replyIDs := make([]string, 0)
	for _, m := range messages {
		ids = append(ids, m.ID)
		if m.ReplyToMessageID.Valid {
			replyIDs = append(replyIDs, m.ReplyToMessageID.String)
		}
	}

	if len(replyIDs) > 0 {
		var previews []models.ReplyPreview
		if err := r.db.SelectContext(ctx, &previews,
			`SELECT id, sender_id, content, is_deleted, sent_at FROM messages WHERE id = ANY($1)`,
			pq.Array(dedupe(replyIDs))); err != nil {
			return err
		}
		byID := make(map[string]models.ReplyPreview, len(previews))
		for _, p := range previews {
			if p.IsDeleted {
				p.Content = ""
			}
			byID[p.ID] = p
		}
		for i := range messages {
			if ref := messages[i].ReplyToMessageID; ref.Valid {
				if preview, ok := byID[ref.String]; ok {
					p := preview
					messages[i].ReplyTo = &p
				}
			}
		}
	}

	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments,
		`SELECT id, message_id, file_name, file_type, mime_type, file_size, url, thumbnail_url, duration, created_at
         FROM attachments WHERE message_id = ANY($1) ORDER BY created_at`,
		pq.Array(ids)); err != nil {
		return err
	}
	attachmentsByMsg := make(map[string][]models.Attachment)
	for _, a := range attachments {
		attachmentsByMsg[a.MessageID] = append(attachmentsByMsg[a.MessageID], a)
	}

	var reactions []models.MessageReaction
	if err := r.db.SelectContext(ctx, &reactions,
		`SELECT id, message_id, user_id, emoji, created_at
         FROM message_reactions WHERE message_id = ANY($1) ORDER BY created_at`,
		pq.Array(ids)); err != nil {
		return err
	}
	reactionsByMsg := make(map[string][]models.MessageReaction)
	for _, re := range reactions {
		reactionsByMsg[re.MessageID] = append(reactionsByMsg[re.MessageID], re)
	}

	for i := range messages {
		messages[i].Attachments = attachmentsByMsg[messages[i].ID]
		messages[i].Reactions = reactionsByMsg[messages[i].ID]
	}
	return nil
}

func emptyToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
