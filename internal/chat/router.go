package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"chat-presence-service/internal/models"
	"chat-presence-service/internal/observability"
	"chat-presence-service/internal/repositories"
)

// Delivery is the live fan-out side of the connection registry. *ws.Hub
// satisfies it.
type Delivery interface {
	SendToUser(userID int64, event models.ServerEvent) int
	SendToRoom(roomID, exceptUserID int64, event models.ServerEvent) int
	IsOnline(userID int64) bool
}

const defaultMaxContentLength = 4096

// Router validates, persists and routes chat messages and their delivery
// state transitions. Persistence is the durability point: once the durable
// write succeeds a send reports success even when no live delivery happened.
type Router struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	delivery Delivery

	maxContentLength int
	now              func() time.Time

	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// NewRouter constructs a Router. maxContentLength <= 0 selects the default.
func NewRouter(messages repositories.MessageRepository, users repositories.UserRepository, delivery Delivery, maxContentLength int) *Router {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}
	return &Router{
		messages:         messages,
		users:            users,
		delivery:         delivery,
		maxContentLength: maxContentLength,
		now:              time.Now,
		convLocks:        make(map[string]*sync.Mutex),
	}
}

// convLock returns the mutex guarding state transitions for one
// conversation, so a read ack can never be overwritten by a concurrently
// arriving delivered ack.
func (r *Router) convLock(key string) *sync.Mutex {
	r.convMu.Lock()
	defer r.convMu.Unlock()
	l, ok := r.convLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.convLocks[key] = l
	}
	return l
}

func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("d:%d:%d", a, b)
}

func groupKey(groupID int64) string {
	return fmt.Sprintf("g:%d", groupID)
}

// Send validates and persists a message, echoes it to the sender and fans it
// out to the receiver's live connections or group room. Offline receivers
// keep the message in state 'sent'; delivery is deferred to the next history
// fetch or reconnect.
func (r *Router) Send(ctx context.Context, senderID int64, receiverID, groupID *int64, content string, kind models.MessageKind) (models.Message, error) {
	if (receiverID == nil) == (groupID == nil) {
		return models.Message{}, NewPrecondition("exactly one of receiver_id and group_id must be set")
	}
	if receiverID != nil && *receiverID == senderID {
		return models.Message{}, NewPrecondition("cannot send a message to yourself")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, NewPrecondition("content must not be empty")
	}
	if len(content) > r.maxContentLength {
		return models.Message{}, NewPrecondition("content exceeds maximum length of %d", r.maxContentLength)
	}
	if kind == "" {
		kind = models.KindText
	}
	if !kind.Valid() {
		return models.Message{}, NewPrecondition("unknown message kind %q", kind)
	}
	if receiverID != nil {
		if _, err := r.users.FindUser(ctx, *receiverID); err != nil {
			if errors.Is(err, repositories.ErrUserNotFound) {
				return models.Message{}, NewPrecondition("unknown receiver %d", *receiverID)
			}
			return models.Message{}, err
		}
	}

	msg, err := r.persist(ctx, models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		GroupID:    groupID,
		Content:    content,
		Kind:       kind,
	})
	if err != nil {
		observability.IncMessageRouted("persist_error")
		return models.Message{}, err
	}

	// The caller may have gone away while the durable write completed. The
	// message is safe either way; only live fan-out is skipped.
	if ctx.Err() != nil {
		observability.IncMessageRouted("persisted_caller_gone")
		return msg, nil
	}

	r.delivery.SendToUser(senderID, models.ServerEvent{
		Type:    models.EventMessageReceived,
		Message: &msg,
		Status:  string(models.StateSent),
	})

	if groupID != nil {
		r.delivery.SendToRoom(*groupID, senderID, models.ServerEvent{
			Type:    models.EventMessageReceived,
			Message: &msg,
			Status:  string(models.StateSent),
		})
		observability.IncMessageRouted("group")
		return msg, nil
	}

	if r.delivery.IsOnline(*receiverID) {
		delivered := r.deliverLive(ctx, msg, *receiverID, senderID)
		if delivered {
			observability.IncMessageRouted("delivered_live")
			return msg, nil
		}
	}
	observability.IncMessageRouted("stored")
	return msg, nil
}

// persist runs the durable write with bounded retries. The write keeps going
// even if the caller's request context is cancelled mid-flight. Only
// transient failures retry: an error Postgres produced is a definitive
// answer from the store, not an outage.
func (r *Router) persist(ctx context.Context, msg models.Message) (models.Message, error) {
	writeCtx := context.WithoutCancel(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	var stored models.Message
	op := func() error {
		var err error
		stored, err = r.messages.CreateMessage(writeCtx, msg)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return backoff.Permanent(err)
			}
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, 3)); err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}
	return stored, nil
}

// deliverLive transitions a freshly persisted message to delivered and fans
// it out to the online receiver, notifying the sender of the delivery.
func (r *Router) deliverLive(ctx context.Context, msg models.Message, receiverID, senderID int64) bool {
	l := r.convLock(directKey(senderID, receiverID))
	l.Lock()
	defer l.Unlock()

	now := r.now()
	if err := r.messages.UpdateMessageState(ctx, msg.ID, models.StateDelivered, now); err != nil {
		log.Printf("router: mark delivered message=%d: %v", msg.ID, err)
		return false
	}
	msg.State = models.StateDelivered
	msg.DeliveredAt = &now

	written := r.delivery.SendToUser(receiverID, models.ServerEvent{
		Type:    models.EventMessageReceived,
		Message: &msg,
		Status:  string(models.StateDelivered),
	})
	r.delivery.SendToUser(senderID, models.ServerEvent{
		Type:        models.EventMessageDelivered,
		MessageID:   msg.ID,
		DeliveredBy: receiverID,
		Timestamp:   &now,
	})
	return written > 0
}

// MarkDelivered transitions all of senderID's pending messages to
// receiverID from sent to delivered and notifies the sender's live
// connections. Called when the receiver opens a conversation or reconnects.
func (r *Router) MarkDelivered(ctx context.Context, receiverID, senderID int64) ([]int64, error) {
	l := r.convLock(directKey(senderID, receiverID))
	l.Lock()
	defer l.Unlock()

	now := r.now()
	ids, err := r.messages.MarkDelivered(ctx, receiverID, senderID, now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.delivery.SendToUser(senderID, models.ServerEvent{
			Type:        models.EventMessageDelivered,
			MessageID:   id,
			DeliveredBy: receiverID,
			Timestamp:   &now,
		})
	}
	return ids, nil
}

// MarkRead transitions the conversation's messages from senderID to readerID
// to read and notifies the sender with the affected count. Messages already
// read are left alone; zero affected messages is a no-op, not an error.
func (r *Router) MarkRead(ctx context.Context, senderID, readerID int64) (int, error) {
	if senderID == readerID {
		return 0, NewPrecondition("cannot mark own messages read")
	}

	l := r.convLock(directKey(senderID, readerID))
	l.Lock()
	defer l.Unlock()

	now := r.now()
	count, err := r.messages.MarkRead(ctx, senderID, readerID, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		r.delivery.SendToUser(senderID, models.ServerEvent{
			Type:        models.EventMessageRead,
			ReadBy:      readerID,
			MarkedCount: count,
			Timestamp:   &now,
		})
	}
	return count, nil
}

// Delete soft-deletes a message. Only the original sender may delete;
// deleting an already-deleted message is a conflict, not silently accepted.
func (r *Router) Delete(ctx context.Context, messageID, requesterID int64) error {
	msg, err := r.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return &NotFoundError{Resource: "message", ID: messageID}
		}
		return err
	}
	if msg.SenderID != requesterID {
		return NewPrecondition("only the sender may delete a message")
	}

	if err := r.messages.SoftDelete(ctx, messageID, requesterID); err != nil {
		if errors.Is(err, repositories.ErrAlreadyDeleted) {
			return &ConflictError{Code: CodeAlreadyDeleted}
		}
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return &NotFoundError{Resource: "message", ID: messageID}
		}
		return err
	}

	event := models.ServerEvent{Type: models.EventMessageDeleted, MessageID: messageID}
	if msg.GroupID != nil {
		r.delivery.SendToRoom(*msg.GroupID, 0, event)
	} else if msg.ReceiverID != nil {
		r.delivery.SendToUser(*msg.ReceiverID, event)
		r.delivery.SendToUser(msg.SenderID, event)
	}
	return nil
}

// Typing relays a typing indicator to the receiver or group room.
func (r *Router) Typing(senderID int64, receiverID, groupID *int64, eventType string) error {
	if (receiverID == nil) == (groupID == nil) {
		return NewPrecondition("exactly one of receiver_id and group_id must be set")
	}
	now := r.now()
	event := models.ServerEvent{Type: eventType, UserID: senderID, Timestamp: &now}
	if groupID != nil {
		r.delivery.SendToRoom(*groupID, senderID, event)
		return nil
	}
	r.delivery.SendToUser(*receiverID, event)
	return nil
}
