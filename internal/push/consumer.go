// Package push consumes mailbox change notifications from an
// at-least-once delivery channel.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"

	"mailflow/internal/history"
)

// Handler receives the message ids surfaced by a reconciliation, e.g. to
// route them through rule evaluation.
type Handler func(ctx context.Context, userID string, messageIDs []string) error

// envelope is the JSON payload Gmail publishes per mailbox change.
type envelope struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Consumer drives the incremental sync engine from push notifications.
// Notifications may arrive duplicated and out of order; anything at or
// below the stored cursor is acknowledged without effect, and
// notifications for the same user are serialized so two reconciliations
// never race over the same history window.
type Consumer struct {
	Engine *history.Engine
	Handle Handler
	Log    *slog.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewConsumer constructs a Consumer. handle may be nil.
func NewConsumer(engine *history.Engine, handle Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		Engine: engine,
		Handle: handle,
		Log:    logger,
		users:  make(map[string]*sync.Mutex),
	}
}

// Run blocks receiving notifications until ctx is canceled. Callbacks in
// flight at cancellation finish their acknowledgment before Receive
// returns.
func (c *Consumer) Run(ctx context.Context, sub *pubsub.Subscription) error {
	c.Log.InfoContext(ctx, "push consumer started", "subscription", sub.String())
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		c.process(ctx, m.Data, m.Ack, m.Nack)
	})
}

// process handles one delivered envelope. ack must be called exactly once
// per delivery and only after the cursor has been durably advanced, so a
// crash in between causes a redelivery that the duplicate guard absorbs.
func (c *Consumer) process(ctx context.Context, data []byte, ack, nack func()) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Undecodable envelopes would redeliver forever; drop them.
		c.Log.ErrorContext(ctx, "undecodable notification", "error", err)
		ack()
		return
	}
	log := c.Log.With("user", env.EmailAddress, "history_id", env.HistoryID)

	mu := c.userMutex(env.EmailAddress)
	mu.Lock()
	defer mu.Unlock()

	cur, err := c.Engine.Store.LatestCursor(ctx, env.EmailAddress)
	if err != nil {
		// Includes the uninitialized-user case: backfill is an external
		// action, so keep the notification in flight.
		log.ErrorContext(ctx, "cursor lookup failed", "error", err)
		nack()
		return
	}
	stored, err := strconv.ParseUint(cur.HistoryID, 10, 64)
	if err != nil {
		log.ErrorContext(ctx, "stored cursor is not numeric", "cursor", cur.HistoryID, "error", err)
		nack()
		return
	}
	if env.HistoryID <= stored {
		log.InfoContext(ctx, "duplicate notification", "cursor", stored)
		ack()
		return
	}

	// The handler runs per history entry, before that entry's cursor
	// record is appended. A handler failure nacks with the cursor still
	// behind the unforwarded entries, so redelivery retries them instead
	// of dying on the duplicate guard.
	var emit func(ctx context.Context, ids []string) error
	if c.Handle != nil {
		emit = func(ctx context.Context, ids []string) error {
			return c.Handle(ctx, env.EmailAddress, ids)
		}
	}
	ids, err := c.Engine.Reconcile(ctx, env.EmailAddress, emit)
	if err != nil {
		log.ErrorContext(ctx, "reconciliation failed", "forwarded", len(ids), "error", err)
		nack()
		return
	}
	ack()
	log.InfoContext(ctx, "notification processed", "new_messages", len(ids))
}

func (c *Consumer) userMutex(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		c.users[userID] = mu
	}
	return mu
}
