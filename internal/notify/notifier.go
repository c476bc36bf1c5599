package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Event is a typed notification payload.
type Event struct {
	Data any    `json:"data,omitempty"`
	Type string `json:"type"`
}

// Notifier encodes events and fans them out to users.
// Delivery is best effort: failures are logged and never returned to the caller.
type Notifier struct {
	messenger Messenger
	limit     int
}

// NewNotifier wraps messenger. limit bounds concurrent deliveries of one broadcast.
func NewNotifier(messenger Messenger, limit int) *Notifier {
	if messenger == nil {
		messenger = LogMessenger{}
	}
	if limit <= 0 {
		limit = 8
	}

	return &Notifier{messenger: messenger, limit: limit}
}

// Send delivers the event to one user.
func (n *Notifier) Send(ctx context.Context, userID int64, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to encode event")
		return
	}

	n.deliver(ctx, userID, payload, event.Type)
}

// Broadcast delivers the event to every user and waits for all attempts to finish.
func (n *Notifier) Broadcast(ctx context.Context, userIDs []int64, event Event) {
	if len(userIDs) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to encode event")
		return
	}

	var g errgroup.Group
	g.SetLimit(n.limit)
	for _, id := range userIDs {
		g.Go(func() error {
			n.deliver(ctx, id, payload, event.Type)
			return nil
		})
	}
	_ = g.Wait()
}

func (n *Notifier) deliver(ctx context.Context, userID int64, payload []byte, eventType string) {
	if err := n.messenger.SendMessage(ctx, userID, payload, ContentTypeJSON); err != nil {
		log.Warn().
			Err(err).
			Int64("user", userID).
			Str("event", eventType).
			Msg("Failed to deliver message")
	}
}
