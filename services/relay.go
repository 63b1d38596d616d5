package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"hexbattle-server/models"
)

// Relay authorizes actions, applies them to the session store and forwards
// them to the opponent.
type Relay struct {
	Store     *SessionStore
	Gateway   Gateway
	Transport Transport
	Writer    DurableWriter
}

func NewRelay(store *SessionStore, gateway Gateway, transport Transport, writer DurableWriter) *Relay {
	return &Relay{Store: store, Gateway: gateway, Transport: transport, Writer: writer}
}

// HandleAction processes one action from sender. A non-zero player number must
// match the sender's seat. The sender is authorized before the payload is
// looked at, and nothing is mutated when an error is returned.
func (r *Relay) HandleAction(ctx context.Context, sessionID, sender string, player int, actionType string, payload json.RawMessage) error {
	sess, err := r.Store.lookup(sessionID)
	if err != nil {
		return err
	}

	var recipients []string
	sess.mu.Lock()
	if sess.retired() {
		sess.mu.Unlock()
		return ErrSessionNotFound
	}
	seat := sess.seatOf(sender)
	if seat == 0 || (player != 0 && player != seat) {
		sess.mu.Unlock()
		log.Warnf("[RELAY] 🚫 %s tried to act on match %s as player %d", sender, sessionID, player)
		return fmt.Errorf("%w: %s is not player %d of %s", ErrUnauthorized, sender, player, sessionID)
	}
	action, err := ParseAction(actionType, payload)
	if err != nil {
		sess.mu.Unlock()
		return err
	}

	// Writes are queued while the session is locked so their order matches
	// the order mutations were applied.
	r.Writer.Enqueue(sessionID, "append action", func(ctx context.Context) error {
		internalID := sess.durable()
		if internalID == "" {
			return fmt.Errorf("%w: match %s has no durable row", ErrPersistence, sessionID)
		}
		return r.Gateway.AppendAction(ctx, internalID, seat, actionType, payload)
	})
	snap := sess.apply(seat, action, r.Store.now())
	r.Writer.Enqueue(sessionID, "update match", func(ctx context.Context) error {
		return r.Gateway.UpdateSession(ctx, sessionID, snap, models.MatchStatusPlaying)
	})
	for _, p := range sess.players {
		if p.Identity != sender {
			recipients = append(recipients, p.Identity)
		}
	}
	sess.mu.Unlock()

	relay := ActionRelay{PlayerNumber: seat, ActionType: actionType, Payload: payload}
	for _, to := range recipients {
		if err := r.Transport.Send(to, EventActionReceived, relay); err != nil {
			log.Warnf("[RELAY] ⚠️ could not forward %s on match %s to %s: %v", actionType, sessionID, to, err)
		}
	}
	return nil
}
