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

// ConversationMeta carries optional conversation metadata; nil fields are
// left untouched on update.
type ConversationMeta struct {
	Name        *string
	Description *string
	Avatar      *string
}

// ConversationRepository owns conversations, membership and roles.
type ConversationRepository interface {
	Create(ctx context.Context, creatorID string, participantIDs []string, isGroup bool, meta ConversationMeta) (models.Conversation, bool, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	Update(ctx context.Context, conversationID string, meta ConversationMeta, actingUserID string) (models.Conversation, error)
	Delete(ctx context.Context, conversationID string, actingUserID string) ([]string, error)
	AddParticipants(ctx context.Context, conversationID string, userIDs []string, actingUserID string) ([]string, error)
	RemoveParticipant(ctx context.Context, conversationID string, targetUserID string, actingUserID string) error
	UpdateParticipantRole(ctx context.Context, conversationID string, targetUserID string, role models.Role, actingUserID string) error
	Leave(ctx context.Context, conversationID string, userID string) error
	UpdateMuteStatus(ctx context.Context, conversationID string, targetUserID string, isMuted bool, actingUserID string) error
	FindDirectConversation(ctx context.Context, userA string, userB string) (models.Conversation, bool, error)
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	ListForUser(ctx context.Context, userID string, page int, perPage int) (models.ConversationPage, error)
	Summary(ctx context.Context, conversationID string, userID string) (models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db        *sqlx.DB
	readState ReadStateRepository
	users     UserRepository
}

// NewConversationRepo constructs a ConversationRepo. The read-state
// repository supplies derived unread counts for summaries; the user
// repository validates participant ids on create and add.
func NewConversationRepo(db *sqlx.DB, readState ReadStateRepository, users UserRepository) *ConversationRepo {
	return &ConversationRepo{db: db, readState: readState, users: users}
}

const conversationColumns = `id, name, description, avatar, is_group, created_by, created_at, updated_at, last_message_at`

// Create creates a conversation with its participant rows as one atomic
// unit. The creator is force-included with role ADMIN. Creating a direct
// conversation for a pair that already has one returns the existing
// conversation instead (idempotent create); the second return value reports
// whether a new conversation was created.
func (r *ConversationRepo) Create(ctx context.Context, creatorID string, participantIDs []string, isGroup bool, meta ConversationMeta) (models.Conversation, bool, error) {
	ids := dedupe(append([]string{creatorID}, participantIDs...))

	if !isGroup && len(ids) != 2 {
		if len(ids) == 1 {
			return models.Conversation{}, false, ErrSelfChat
		}
		return models.Conversation{}, false, ErrDirectParticipants
	}

	exists, err := r.users.AllExist(ctx, ids)
	if err != nil {
		return models.Conversation{}, false, err
	}
	if !exists {
		return models.Conversation{}, false, ErrUserNotFound
	}

	if !isGroup {
		existing, found, err := r.FindDirectConversation(ctx, ids[0], ids[1])
		if err != nil {
			return models.Conversation{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	if !isGroup {
		// Serialize pair creation so two racing creates cannot both miss
		// the existence check and insert duplicate direct conversations.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, directPairKey(ids[0], ids[1])); err != nil {
			return models.Conversation{}, false, err
		}
		existing, found, err := findDirectConversation(ctx, tx, ids[0], ids[1])
		if err != nil {
			return models.Conversation{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	var conv models.Conversation
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, name, description, avatar, is_group, created_by)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING `+conversationColumns,
		uuid.NewString(), nullable(meta.Name), nullable(meta.Description), nullable(meta.Avatar), isGroup, creatorID,
	).StructScan(&conv)
	if err != nil {
		return models.Conversation{}, false, err
	}

	for _, userID := range ids {
		role := models.RoleMember
		if userID == creatorID {
			role = models.RoleAdmin
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (user_id, conversation_id, role) VALUES ($1, $2, $3)`,
			userID, conv.ID, role); err != nil {
			return models.Conversation{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// Update applies metadata changes. Requires ADMIN or MODERATOR.
func (r *ConversationRepo) Update(ctx context.Context, conversationID string, meta ConversationMeta, actingUserID string) (models.Conversation, error) {
	if err := r.requireRole(ctx, conversationID, actingUserID, models.RoleAdmin, models.RoleModerator); err != nil {
		return models.Conversation{}, err
	}

	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx,
		`UPDATE conversations SET
            name = COALESCE($2, name),
            description = COALESCE($3, description),
            avatar = COALESCE($4, avatar),
            updated_at = NOW()
         WHERE id=$1
         RETURNING `+conversationColumns,
		conversationID, nullable(meta.Name), nullable(meta.Description), nullable(meta.Avatar),
	).StructScan(&conv)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// Delete removes a conversation and, via cascades, its participants,
// messages and settings. Creator only. Returns the participant ids that
// were members at deletion time so callers can fan out removal events.
func (r *ConversationRepo) Delete(ctx context.Context, conversationID string, actingUserID string) ([]string, error) {
	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.CreatedBy != actingUserID {
		return nil, ErrForbidden
	}

	participantIDs, err := r.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID); err != nil {
		return nil, err
	}
	return participantIDs, nil
}

// AddParticipants adds users to a group conversation with role MEMBER.
// Ids already present are silently skipped. Returns the ids actually added.
func (r *ConversationRepo) AddParticipants(ctx context.Context, conversationID string, userIDs []string, actingUserID string) ([]string, error) {
	if err := r.requireRole(ctx, conversationID, actingUserID, models.RoleAdmin, models.RoleModerator); err != nil {
		return nil, err
	}

	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, ErrNotGroup
	}

	ids := dedupe(userIDs)
	exists, err := r.users.AllExist(ctx, ids)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	rows, err := r.db.QueryxContext(ctx,
		`INSERT INTO participants (user_id, conversation_id, role)
         SELECT unnest($1::text[]), $2, $3
         ON CONFLICT (user_id, conversation_id) DO NOTHING
         RETURNING user_id`,
		pq.Array(ids), conversationID, models.RoleMember)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var added []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		added = append(added, id)
	}
	return added, rows.Err()
}

// RemoveParticipant removes a user from the conversation. Moderators may
// not remove admins.
func (r *ConversationRepo) RemoveParticipant(ctx context.Context, conversationID string, targetUserID string, actingUserID string) error {
	acting, err := r.GetParticipant(ctx, conversationID, actingUserID)
	if err != nil {
		return err
	}
	if !acting.Role.CanManageParticipants() {
		return ErrForbidden
	}

	target, err := r.GetParticipant(ctx, conversationID, targetUserID)
	if errors.Is(err, ErrNotParticipant) {
		return ErrParticipantNotFound
	}
	if err != nil {
		return err
	}
	if target.Role == models.RoleAdmin && acting.Role != models.RoleAdmin {
		return ErrForbidden
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM participants WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, targetUserID)
	return err
}

// UpdateParticipantRole changes a participant's role. ADMIN only.
func (r *ConversationRepo) UpdateParticipantRole(ctx context.Context, conversationID string, targetUserID string, role models.Role, actingUserID string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	if err := r.requireRole(ctx, conversationID, actingUserID, models.RoleAdmin); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE participants SET role=$3 WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, targetUserID, role)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// Leave removes the caller's own participant row. No role check.
func (r *ConversationRepo) Leave(ctx context.Context, conversationID string, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM participants WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotParticipant
	}
	return nil
}

// UpdateMuteStatus sets a participant's mute flag. A user may change only
// their own flag unless the acting user is an ADMIN.
func (r *ConversationRepo) UpdateMuteStatus(ctx context.Context, conversationID string, targetUserID string, isMuted bool, actingUserID string) error {
	acting, err := r.GetParticipant(ctx, conversationID, actingUserID)
	if err != nil {
		return err
	}
	if actingUserID != targetUserID && acting.Role != models.RoleAdmin {
		return ErrForbidden
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE participants SET is_muted=$3 WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, targetUserID, isMuted)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// FindDirectConversation returns the unique non-group conversation whose
// participant set is exactly {userA, userB}.
func (r *ConversationRepo) FindDirectConversation(ctx context.Context, userA string, userB string) (models.Conversation, bool, error) {
	return findDirectConversation(ctx, r.db, userA, userB)
}

func findDirectConversation(ctx context.Context, q sqlx.QueryerContext, userA string, userB string) (models.Conversation, bool, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q, &conv,
		`SELECT c.id, c.name, c.description, c.avatar, c.is_group, c.created_by, c.created_at, c.updated_at, c.last_message_at
         FROM conversations c
         JOIN participants p ON p.conversation_id = c.id
         WHERE c.is_group = FALSE
         GROUP BY c.id
         HAVING COUNT(*) = 2 AND COUNT(*) FILTER (WHERE p.user_id IN ($1, $2)) = 2`,
		userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

// directPairKey builds the advisory-lock key for a user pair. The key is
// order-insensitive so both racing creators contend on the same lock.
func directPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// IsParticipant checks membership.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// GetParticipant fetches a membership row, ErrNotParticipant when absent.
func (r *ConversationRepo) GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p,
		`SELECT user_id, conversation_id, role, joined_at, last_seen_at, is_muted, is_pinned
         FROM participants WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrNotParticipant
	}
	return p, err
}

// ListParticipants returns all membership rows with usernames.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.SelectContext(ctx, &participants,
		`SELECT p.user_id, p.conversation_id, p.role, p.joined_at, p.last_seen_at, p.is_muted, p.is_pinned, u.username
         FROM participants p
         JOIN users u ON u.id = p.user_id
         WHERE p.conversation_id=$1
         ORDER BY p.joined_at`,
		conversationID)
	return participants, err
}

// ParticipantIDs returns the current participant id set.
func (r *ConversationRepo) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM participants WHERE conversation_id=$1`, conversationID)
	return ids, err
}

// ListForUser returns the user's conversations ordered by most recent
// activity, each with a derived unread count and last-message preview.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string, page int, perPage int) (models.ConversationPage, error) {
	page, perPage = clampPage(page, perPage)
	offset := (page - 1) * perPage

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM participants WHERE user_id=$1`, userID); err != nil {
		return models.ConversationPage{}, err
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT c.id, c.name, c.avatar, c.is_group, c.created_at, c.last_message_at, p.is_muted, p.is_pinned
         FROM conversations c
         JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
         ORDER BY c.last_message_at DESC
         OFFSET $2 LIMIT $3`,
		userID, offset, perPage)
	if err != nil {
		return models.ConversationPage{}, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0, perPage)
	for rows.Next() {
		var (
			s            models.ConversationSummary
			name, avatar sql.NullString
		)
		if err := rows.Scan(&s.ID, &name, &avatar, &s.IsGroup, &s.CreatedAt, &s.LastMessageAt, &s.IsMuted, &s.IsPinned); err != nil {
			return models.ConversationPage{}, err
		}
		s.Name = name.String
		s.Avatar = avatar.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return models.ConversationPage{}, err
	}

	for i := range summaries {
		if err := r.fillSummary(ctx, &summaries[i], userID); err != nil {
			return models.ConversationPage{}, err
		}
	}

	return models.ConversationPage{
		Conversations: summaries,
		Total:         total,
		Page:          page,
		PerPage:       perPage,
		HasMore:       offset+len(summaries) < total,
	}, nil
}

// Summary returns the single-conversation list row for a user, used both by
// the detail endpoint and as the conversation-updated event payload.
func (r *ConversationRepo) Summary(ctx context.Context, conversationID string, userID string) (models.ConversationSummary, error) {
	var (
		s            models.ConversationSummary
		name, avatar sql.NullString
	)
	err := r.db.QueryRowxContext(ctx,
		`SELECT c.id, c.name, c.avatar, c.is_group, c.created_at, c.last_message_at, p.is_muted, p.is_pinned
         FROM conversations c
         JOIN participants p ON p.conversation_id = c.id AND p.user_id = $2
         WHERE c.id = $1`,
		conversationID, userID).
		Scan(&s.ID, &name, &avatar, &s.IsGroup, &s.CreatedAt, &s.LastMessageAt, &s.IsMuted, &s.IsPinned)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationSummary{}, ErrNotParticipant
	}
	if err != nil {
		return models.ConversationSummary{}, err
	}
	s.Name = name.String
	s.Avatar = avatar.String

	if err := r.fillSummary(ctx, &s, userID); err != nil {
		return models.ConversationSummary{}, err
	}
	return s, nil
}

func (r *ConversationRepo) fillSummary(ctx context.Context, s *models.ConversationSummary, userID string) error {
	unread, err := r.readState.UnreadCount(ctx, s.ID, userID)
	if err != nil {
		return err
	}
	s.UnreadCount = unread

	if err := r.db.GetContext(ctx, &s.ParticipantsCount,
		`SELECT COUNT(*) FROM participants WHERE conversation_id=$1`, s.ID); err != nil {
		return err
	}

	var lastContent, lastSender sql.NullString
	err = r.db.QueryRowxContext(ctx,
		`SELECT m.content, u.username
         FROM messages m
         JOIN users u ON u.id = m.sender_id
         WHERE m.conversation_id=$1 AND m.is_deleted=FALSE
         ORDER BY m.sent_at DESC
         LIMIT 1`, s.ID).Scan(&lastContent, &lastSender)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	s.LastMessage = lastContent.String
	s.LastMessageSender = lastSender.String

	// Direct conversations display as the other participant.
	if !s.IsGroup {
		var otherID, otherName string
		err = r.db.QueryRowxContext(ctx,
			`SELECT u.id, u.username
             FROM participants p
             JOIN users u ON u.id = p.user_id
             WHERE p.conversation_id=$1 AND p.user_id<>$2
             LIMIT 1`, s.ID, userID).Scan(&otherID, &otherName)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			s.OtherParticipantID = otherID
			s.OtherParticipantUsername = otherName
			if s.Name == "" {
				s.Name = otherName
			}
		}
	}
	return nil
}

func (r *ConversationRepo) requireRole(ctx context.Context, conversationID string, userID string, roles ...models.Role) error {
	p, err := r.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if p.Role == role {
			return nil
		}
	}
	return ErrForbidden
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
