package handlers

import (
	"context"
	"log"
	"time"

	"handmade/internal/middleware"
	"handmade/internal/models"
	"handmade/internal/store"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// streamMessage is one snapshot pushed over a product websocket.
type streamMessage struct {
	Type     string           `json:"type"`
	Products []models.Product `json:"products"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// ProductWatcher is the live-query side of the store.
type ProductWatcher interface {
	Watch(ctx context.Context, q store.Query) <-chan store.Snapshot
}

// websocketOnly rejects plain HTTP requests to a stream route.
func websocketOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleStream pushes a full snapshot of the caller's products every time
// they change. Disconnecting cancels the subscription.
func (h *SellerHandler) HandleStream(c *websocket.Conn) {
	identity, _ := c.Locals(middleware.IdentityKey).(models.Identity)

	adapter, release := h.registry.Acquire(identity.ID)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := adapter.Subscribe(ctx, identity.ID)
	if err != nil {
		if werr := c.WriteJSON(streamMessage{Type: "error", Error: err.Error(), At: time.Now().UTC()}); werr != nil {
			log.Printf("[stream] failed to report %v to seller %s: %v", err, identity.ID, werr)
		}
		return
	}
	defer sub.Cancel()

	pushSnapshots(c, "seller "+identity.ID, sub.Events(), cancel)
}

// watchAll streams every product, newest first, until the client goes away.
func watchAll(c *websocket.Conn, watcher ProductWatcher, who string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushSnapshots(c, who, watcher.Watch(ctx, store.Query{}), cancel)
}

// pushSnapshots writes every snapshot from events to c until events closes or
// a write fails. A read error means the client went away and triggers cancel,
// which must end events.
func pushSnapshots(c *websocket.Conn, who string, events <-chan store.Snapshot, cancel context.CancelFunc) {
	log.Printf("[stream] %s subscribed", who)

	// the client never sends anything
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[stream] read error for %s: %v", who, err)
				}
				return
			}
		}
	}()

	for snap := range events {
		msg := streamMessage{Type: "snapshot", Products: snap.Products, At: snap.At}
		if msg.Products == nil {
			msg.Products = []models.Product{}
		}
		if snap.Err != nil {
			msg.Type = "error"
			msg.Error = snap.Err.Error()
		}
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("[stream] write to %s failed: %v", who, err)
			cancel()
			break
		}
	}
	log.Printf("[stream] %s unsubscribed", who)
}
