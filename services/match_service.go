package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"hexbattle-server/models"
)

const DefaultScenario = "1"

// MatchService is the entry point for the request layer: lobby joins, match
// acceptance, actions, heartbeats, reconnects and disconnects.
type MatchService struct {
	Queue     *MatchQueue
	Store     *SessionStore
	Relay     *Relay
	Gateway   Gateway
	Transport Transport
	Writer    DurableWriter

	// FallbackScenario is used when both paired tickets accept any scenario.
	FallbackScenario string

	// seating serializes everything that moves an identity between the lobby
	// and a seat, so no identity can end up seated twice.
	seating sync.Mutex

	newID func() string
	now   func() time.Time
}

func NewMatchService(gateway Gateway, transport Transport, writer DurableWriter) *MatchService {
	store := NewSessionStore()
	return &MatchService{
		Queue:            NewMatchQueue(),
		Store:            store,
		Relay:            NewRelay(store, gateway, transport, writer),
		Gateway:          gateway,
		Transport:        transport,
		Writer:           writer,
		FallbackScenario: DefaultScenario,
		newID:            uuid.NewString,
		now:              time.Now,
	}
}

// Join queues identity for a match and pairs it if a compatible ticket is
// already waiting.
func (s *MatchService) Join(ctx context.Context, identity, username, scenario string) error {
	s.seating.Lock()
	defer s.seating.Unlock()

	if len(s.Store.SessionsFor(identity)) > 0 {
		return s.fail(identity, ErrAlreadyInSession)
	}

	t := Ticket{
		Identity:   identity,
		Username:   NormalizeUsername(username),
		Scenario:   NormalizeScenario(scenario),
		EnqueuedAt: s.now(),
	}
	if err := s.Queue.Enqueue(t); err != nil {
		return s.fail(identity, err)
	}
	log.Infof("[LOBBY] 🙋 %s (%s) waiting for scenario %q", t.Username, identity, t.Scenario)

	s.Writer.Enqueue(identity, "create waiting record", func(ctx context.Context) error {
		return s.Gateway.CreateWaitingRecord(ctx, t.Identity, t.Username, t.Scenario)
	})
	broadcastLobby(s.Transport, s.Queue)

	return s.pair()
}

// pair runs with s.seating held.
func (s *MatchService) pair() error {
	a, b, ok := s.Queue.TryPair()
	if !ok {
		return nil
	}

	id := s.newID()
	scenario := firstNonEmpty(a.Scenario, b.Scenario, s.FallbackScenario)
	players := [2]Seat{
		{Identity: a.Identity, Username: a.Username, ReconnectToken: s.newID()},
		{Identity: b.Identity, Username: b.Username, ReconnectToken: s.newID()},
	}

	view, err := s.Store.Create(id, scenario, players)
	if err != nil {
		s.Queue.Requeue(a, b)
		log.Errorf("[LOBBY] ❌ could not create match for %s and %s: %v", a.Identity, b.Identity, err)
		return fmt.Errorf("create match: %w", err)
	}
	sess, err := s.Store.lookup(id)
	if err != nil {
		return err
	}
	log.Infof("[LOBBY] 🤝 match %s: %s vs %s (scenario %q)", id, a.Username, b.Username, scenario)

	initial := view.Snapshot
	s.Writer.Enqueue(id, "create match", func(ctx context.Context) error {
		internalID, err := s.Gateway.CreateSession(ctx, id, scenario, initial)
		if err != nil {
			return err
		}
		sess.setDurable(internalID)
		for i, p := range players {
			if err := s.Gateway.CreateParticipant(ctx, internalID, p.Identity, p.Username, i+1, p.ReconnectToken); err != nil {
				return fmt.Errorf("player %d: %w", i+1, err)
			}
		}
		return nil
	})

	for i, p := range players {
		found := MatchFound{UUID: id, PlayerNumber: i + 1, InitialState: initial.Clone(), ReconnectToken: p.ReconnectToken}
		if err := s.Transport.Send(p.Identity, EventMatchFound, found); err != nil {
			log.Warnf("[LOBBY] ⚠️ could not notify %s of match %s: %v", p.Identity, id, err)
		}
	}

	for _, t := range []Ticket{a, b} {
		identity := t.Identity
		s.Writer.Enqueue(identity, "mark waiting record matched", func(ctx context.Context) error {
			return s.Gateway.MarkWaitingStatus(ctx, models.LobbyStatusMatched, identity)
		})
	}
	broadcastLobby(s.Transport, s.Queue)
	return nil
}

// AcceptMatch acknowledges a match-found event and returns the current state.
func (s *MatchService) AcceptMatch(identity, sessionID string) (models.Snapshot, error) {
	v, err := s.Store.Get(sessionID)
	if err != nil {
		return models.Snapshot{}, s.fail(identity, err)
	}
	if v.PlayerNumber(identity) == 0 {
		return models.Snapshot{}, s.fail(identity, ErrUnauthorized)
	}
	if err := s.Store.MarkPlaying(sessionID); err != nil {
		return models.Snapshot{}, s.fail(identity, err)
	}

	if err := s.Transport.Send(identity, EventMatchAccepted, MatchAccepted{UUID: sessionID, State: v.Snapshot}); err != nil {
		log.Warnf("[MATCH] ⚠️ could not acknowledge %s on match %s: %v", identity, sessionID, err)
	}
	return v.Snapshot, nil
}

// SubmitAction relays an action; failures are reported to the sender.
func (s *MatchService) SubmitAction(ctx context.Context, identity, sessionID string, player int, actionType string, payload json.RawMessage) error {
	if err := s.Relay.HandleAction(ctx, sessionID, identity, player, actionType, payload); err != nil {
		return s.fail(identity, err)
	}
	return nil
}

// Heartbeat keeps a session alive without changing its state.
func (s *MatchService) Heartbeat(ctx context.Context, sessionID string) error {
	if err := s.Store.Touch(sessionID); err != nil {
		return err
	}
	s.Writer.Enqueue(sessionID, "heartbeat", func(ctx context.Context) error {
		return s.Gateway.TouchSession(ctx, sessionID)
	})
	return nil
}

// Disconnect drops identity's ticket and flags it disconnected in every match
// it plays. Matches stay in memory for the opponent and for reconnection.
func (s *MatchService) Disconnect(ctx context.Context, identity string) {
	if _, ok := s.Queue.Remove(identity); ok {
		log.Infof("[LOBBY] 👋 %s left the lobby", identity)
	}
	s.Writer.Enqueue(identity, "mark waiting record disconnected", func(ctx context.Context) error {
		return s.Gateway.MarkWaitingStatus(ctx, models.LobbyStatusDisconnected, identity)
	})
	broadcastLobby(s.Transport, s.Queue)

	for _, v := range s.Store.SessionsFor(identity) {
		player, err := s.Store.SetConnected(v.ID, identity, false)
		if err != nil {
			continue
		}
		sess, err := s.Store.lookup(v.ID)
		if err != nil {
			continue
		}
		sessionID := v.ID
		s.Writer.Enqueue(sessionID, "mark participant disconnected", func(ctx context.Context) error {
			internalID := sess.durable()
			if internalID == "" {
				return fmt.Errorf("%w: match %s has no durable row", ErrPersistence, sessionID)
			}
			return s.Gateway.MarkParticipantDisconnected(ctx, internalID, identity)
		})
		s.notifyOpponent(v, identity, EventOpponentLeft, OpponentPresence{UUID: sessionID, PlayerNumber: player})
		log.Infof("[MATCH] 🔌 player %d (%s) disconnected from match %s", player, identity, sessionID)
	}
}

// Reconnect attaches a new connection to the seat that owns token.
func (s *MatchService) Reconnect(ctx context.Context, identity, sessionID, token string) (int, models.Snapshot, error) {
	s.seating.Lock()
	defer s.seating.Unlock()

	for _, v := range s.Store.SessionsFor(identity) {
		if v.ID != sessionID {
			return 0, models.Snapshot{}, s.fail(identity, ErrAlreadyInSession)
		}
	}

	player, old, v, err := s.Store.Reattach(sessionID, identity, token)
	if err != nil {
		return 0, models.Snapshot{}, s.fail(identity, err)
	}
	s.Queue.Remove(identity)

	sess, err := s.Store.lookup(sessionID)
	if err == nil && old != identity {
		s.Writer.Enqueue(sessionID, "mark participant reconnected", func(ctx context.Context) error {
			internalID := sess.durable()
			if internalID == "" {
				return fmt.Errorf("%w: match %s has no durable row", ErrPersistence, sessionID)
			}
			return s.Gateway.MarkParticipantReconnected(ctx, internalID, old, identity)
		})
	}

	if err := s.Transport.Send(identity, EventMatchResumed, MatchResumed{UUID: sessionID, PlayerNumber: player, State: v.Snapshot}); err != nil {
		log.Warnf("[MATCH] ⚠️ could not resume %s on match %s: %v", identity, sessionID, err)
	}
	s.notifyOpponent(v, identity, EventOpponentReturned, OpponentPresence{UUID: sessionID, PlayerNumber: player})
	log.Infof("[MATCH] 🔁 player %d reattached to match %s as %s", player, sessionID, identity)
	return player, v.Snapshot, nil
}

// Rehydrate loads unfinished matches from the durable store. Their previous
// connections are gone, so every seat starts disconnected until reattached.
func (s *MatchService) Rehydrate(ctx context.Context) (int, error) {
	matches, err := s.Gateway.LoadLiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: load live matches: %v", ErrPersistence, err)
	}

	restored := 0
	for _, m := range matches {
		v, ok := viewFromMatch(m)
		if !ok {
			log.Warnf("[REHYDRATE] ⚠️ match %s does not have two players, skipping", m.UUID)
			continue
		}
		if err := s.Store.Restore(v); err != nil {
			log.Warnf("[REHYDRATE] ⚠️ match %s: %v", m.UUID, err)
			continue
		}
		restored++
	}
	log.Infof("[REHYDRATE] ✅ restored %d of %d live match(es)", restored, len(matches))
	return restored, nil
}

func viewFromMatch(m models.Match) (SessionView, bool) {
	players := append([]models.MatchPlayer(nil), m.Players...)
	sort.Slice(players, func(i, j int) bool { return players[i].PlayerNumber < players[j].PlayerNumber })
	if len(players) != 2 || players[0].PlayerNumber != 1 || players[1].PlayerNumber != 2 {
		return SessionView{}, false
	}

	last := m.LastHeartbeat
	if m.UpdatedAt.After(last) {
		last = m.UpdatedAt
	}
	v := SessionView{
		ID:         m.UUID,
		DurableID:  m.ID,
		Scenario:   m.Scenario,
		Snapshot:   m.State,
		Status:     m.Status,
		LastUpdate: last,
	}
	for i, p := range players {
		v.Players[i] = Seat{Identity: p.UserSocketID, Username: p.Username, ReconnectToken: p.ReconnectToken}
	}
	return v, true
}

func (s *MatchService) notifyOpponent(v SessionView, identity, event string, payload any) {
	for _, p := range v.Players {
		if p.Identity == identity {
			continue
		}
		if err := s.Transport.Send(p.Identity, event, payload); err != nil {
			log.Debugf("[MATCH] could not send %s to %s: %v", event, p.Identity, err)
		}
	}
}

// fail reports err to identity as an error event and returns it.
func (s *MatchService) fail(identity string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		log.Debugf("[MATCH] %s: %v", identity, err)
	} else {
		log.Warnf("[MATCH] ⚠️ %s: %v", identity, err)
	}
	if sendErr := s.Transport.Send(identity, EventError, ErrorEvent{Msg: ErrorMessage(err)}); sendErr != nil {
		log.Debugf("[MATCH] could not report error to %s: %v", identity, sendErr)
	}
	return err
}

func broadcastLobby(t Transport, q *MatchQueue) {
	waiting := q.Waiting()
	list := make([]LobbyEntry, len(waiting))
	for i, w := range waiting {
		list[i] = LobbyEntry{Username: w.Username, Scenario: w.Scenario, SocketID: w.Identity}
	}
	t.BroadcastAll(EventLobbyUpdate, list)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
