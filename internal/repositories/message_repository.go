package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-presence-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadyDeleted  = errors.New("message already deleted")
)

// MessageRepository defines durable storage interactions for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	UpdateMessageState(ctx context.Context, messageID int64, state models.DeliveryState, at time.Time) error
	FindConversation(ctx context.Context, userA, userB int64, limit int, before *time.Time) ([]models.Message, error)
	FindGroupConversation(ctx context.Context, groupID int64, limit int, before *time.Time) ([]models.Message, error)
	MarkDelivered(ctx context.Context, receiverID, senderID int64, at time.Time) ([]int64, error)
	MarkRead(ctx context.Context, senderID, readerID int64, at time.Time) (int, error)
	SoftDelete(ctx context.Context, messageID, senderID int64) error
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, group_id, content, kind, state, deleted, sent_at, delivered_at, read_at`

// CreateMessage stores a message with state 'sent'.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, group_id, content, kind, state)
         VALUES ($1, $2, $3, $4, $5, 'sent')
         RETURNING `+messageColumns,
		msg.SenderID, msg.ReceiverID, msg.GroupID, msg.Content, msg.Kind).
		StructScan(&stored)
	return stored, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageState advances the delivery state of one message. The guard
// clause keeps the state machine one-directional even under concurrent acks.
func (r *MessageRepo) UpdateMessageState(ctx context.Context, messageID int64, state models.DeliveryState, at time.Time) error {
	var res sql.Result
	var err error
	switch state {
	case models.StateDelivered:
		res, err = r.db.ExecContext(ctx,
			`UPDATE messages SET state='delivered', delivered_at=$2 WHERE id=$1 AND state='sent'`,
			messageID, at)
	case models.StateRead:
		res, err = r.db.ExecContext(ctx,
			`UPDATE messages SET state='read', read_at=$2 WHERE id=$1 AND state IN ('sent','delivered')`,
			messageID, at)
	default:
		return fmt.Errorf("unsupported target state %q", state)
	}
	if err != nil {
		return err
	}
	// Zero rows means the message is already in an equal-or-later state,
	// which callers treat as a no-op.
	_, err = res.RowsAffected()
	return err
}

// FindConversation returns messages between two users, newest page first.
func (r *MessageRepo) FindConversation(ctx context.Context, userA, userB int64, limit int, before *time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE deleted = FALSE
        AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`
	args := []interface{}{userA, userB}
	if before != nil {
		query += ` AND sent_at < $3`
		args = append(args, *before)
	}
	query += ` ORDER BY sent_at DESC LIMIT ` + limitClause(len(args)+1)
	args = append(args, limit)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// FindGroupConversation returns messages for a group, newest page first.
func (r *MessageRepo) FindGroupConversation(ctx context.Context, groupID int64, limit int, before *time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE deleted = FALSE AND group_id=$1`
	args := []interface{}{groupID}
	if before != nil {
		query += ` AND sent_at < $2`
		args = append(args, *before)
	}
	query += ` ORDER BY sent_at DESC LIMIT ` + limitClause(len(args)+1)
	args = append(args, limit)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// MarkDelivered transitions all of a sender's 'sent' messages addressed to
// the receiver to 'delivered' and returns the affected message ids.
func (r *MessageRepo) MarkDelivered(ctx context.Context, receiverID, senderID int64, at time.Time) ([]int64, error) {
	rows, err := r.db.QueryxContext(ctx,
		`UPDATE messages SET state='delivered', delivered_at=$3
         WHERE sender_id=$1 AND receiver_id=$2 AND state='sent' AND deleted = FALSE
         RETURNING id`,
		senderID, receiverID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead transitions the sender's unread messages to the reader to 'read'
// and returns how many were affected.
func (r *MessageRepo) MarkRead(ctx context.Context, senderID, readerID int64, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET state='read', read_at=$3
         WHERE sender_id=$1 AND receiver_id=$2 AND state IN ('sent','delivered') AND deleted = FALSE`,
		senderID, readerID, at)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// SoftDelete marks a message deleted. Only the original sender may delete;
// re-deleting reports ErrAlreadyDeleted.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID int64) error {
	var deleted bool
	err := r.db.GetContext(ctx, &deleted, `SELECT deleted FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if deleted {
		return ErrAlreadyDeleted
	}
	_, err = r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id=$1`, messageID)
	return err
}

// CountUnread counts live messages addressed to the user not yet read.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND state <> 'read' AND deleted = FALSE`, userID)
	return count, err
}

func limitClause(pos int) string {
	return fmt.Sprintf("$%d", pos)
}
