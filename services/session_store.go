package services

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"hexbattle-server/models"
)

// Seat is one participant of a session. Player number is the seat index + 1
// and never changes.
type Seat struct {
	Identity       string `json:"socketId"`
	Username       string `json:"username"`
	ReconnectToken string `json:"-"`
	Connected      bool   `json:"connected"`
}

// SessionView is a point-in-time copy of a session.
type SessionView struct {
	ID         string             `json:"uuid"`
	DurableID  string             `json:"-"`
	Scenario   string             `json:"scenario"`
	Snapshot   models.Snapshot    `json:"state"`
	Players    [2]Seat            `json:"players"`
	Status     models.MatchStatus `json:"status"`
	LastUpdate time.Time          `json:"lastUpdate"`
}

// PlayerNumber returns the 1-based seat of identity, or 0.
func (v SessionView) PlayerNumber(identity string) int {
	for i, p := range v.Players {
		if p.Identity == identity {
			return i + 1
		}
	}
	return 0
}

type session struct {
	mu         sync.Mutex
	id         string
	durableID  string
	scenario   string
	snapshot   models.Snapshot
	players    [2]Seat
	status     models.MatchStatus
	lastUpdate time.Time
}

func (s *session) view() SessionView {
	return SessionView{
		ID:         s.id,
		DurableID:  s.durableID,
		Scenario:   s.scenario,
		Snapshot:   s.snapshot.Clone(),
		Players:    s.players,
		Status:     s.status,
		LastUpdate: s.lastUpdate,
	}
}

func (s *session) seatOf(identity string) int {
	for i, p := range s.players {
		if p.Identity == identity {
			return i + 1
		}
	}
	return 0
}

func (s *session) touch(now time.Time) {
	if now.After(s.lastUpdate) {
		s.lastUpdate = now
	}
}

func (s *session) apply(player int, action Action, now time.Time) models.Snapshot {
	switch a := action.(type) {
	case ReplaceState:
		s.snapshot = a.Snapshot.Clone()
	case GenericAction:
		s.snapshot.AppendHistory(models.HistoryEntry{
			Player:     player,
			ActionType: a.Name,
			Payload:    a.Payload,
			When:       now,
		})
	default:
		panic(fmt.Sprintf("unhandled action %T", action))
	}
	s.status = models.MatchStatusPlaying
	s.touch(now)
	return s.snapshot.Clone()
}

// retired reports whether the reaper removed s after it was looked up. The
// caller holds s.mu.
func (s *session) retired() bool {
	return s.status == models.MatchStatusAborted
}

func (s *session) durable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durableID
}

func (s *session) setDurable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durableID = id
}

// SessionStore is the authoritative set of live sessions. The map lock only
// guards membership; each session carries its own lock so work on one match
// never waits on another.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Create inserts a new session seeded with the initial snapshot.
func (st *SessionStore) Create(id, scenario string, players [2]Seat) (SessionView, error) {
	if players[0].Identity == "" || players[1].Identity == "" || players[0].Identity == players[1].Identity {
		return SessionView{}, ErrInvalidPlayers
	}
	for i := range players {
		players[i].Connected = true
	}
	s := &session{
		id:         id,
		scenario:   scenario,
		snapshot:   models.NewSnapshot(id, scenario),
		players:    players,
		status:     models.MatchStatusWaiting,
		lastUpdate: st.now(),
	}
	if err := st.insert(s); err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

// Restore re-inserts a session loaded from durable storage.
func (st *SessionStore) Restore(v SessionView) error {
	if v.Players[0].Identity == v.Players[1].Identity {
		return ErrInvalidPlayers
	}
	return st.insert(&session{
		id:         v.ID,
		durableID:  v.DurableID,
		scenario:   v.Scenario,
		snapshot:   v.Snapshot.Clone(),
		players:    v.Players,
		status:     v.Status,
		lastUpdate: v.LastUpdate,
	})
}

func (st *SessionStore) insert(s *session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[s.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, s.id)
	}
	st.sessions[s.id] = s
	return nil
}

func (st *SessionStore) lookup(id string) (*session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// update runs fn with exclusive access to the session.
func (st *SessionStore) update(id string, fn func(s *session) error) error {
	s, err := st.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired() {
		return ErrSessionNotFound
	}
	return fn(s)
}

func (st *SessionStore) Get(id string) (SessionView, error) {
	var v SessionView
	err := st.update(id, func(s *session) error {
		v = s.view()
		return nil
	})
	return v, err
}

// ApplyAction mutates the session snapshot and returns the result.
func (st *SessionStore) ApplyAction(id string, player int, action Action) (models.Snapshot, error) {
	var snap models.Snapshot
	err := st.update(id, func(s *session) error {
		snap = s.apply(player, action, st.now())
		return nil
	})
	return snap, err
}

// Touch refreshes last-update only.
func (st *SessionStore) Touch(id string) error {
	return st.update(id, func(s *session) error {
		s.touch(st.now())
		return nil
	})
}

func (st *SessionStore) MarkPlaying(id string) error {
	return st.update(id, func(s *session) error {
		s.status = models.MatchStatusPlaying
		return nil
	})
}

// SetConnected flips the presence flag of identity's seat and returns its
// player number.
func (st *SessionStore) SetConnected(id, identity string, connected bool) (int, error) {
	var player int
	err := st.update(id, func(s *session) error {
		player = s.seatOf(identity)
		if player == 0 {
			return ErrUnauthorized
		}
		s.players[player-1].Connected = connected
		return nil
	})
	return player, err
}

// Reattach moves the seat holding token to a new connection identity.
func (st *SessionStore) Reattach(id, identity, token string) (int, string, SessionView, error) {
	var (
		player int
		old    string
		view   SessionView
	)
	err := st.update(id, func(s *session) error {
		if token == "" {
			return ErrUnauthorized
		}
		for i, p := range s.players {
			if subtle.ConstantTimeCompare([]byte(p.ReconnectToken), []byte(token)) != 1 {
				continue
			}
			if other := s.players[1-i]; other.Identity == identity {
				return ErrUnauthorized
			}
			player, old = i+1, p.Identity
			s.players[i].Identity = identity
			s.players[i].Connected = true
			s.touch(st.now())
			view = s.view()
			return nil
		}
		return ErrUnauthorized
	})
	return player, old, view, err
}

func (st *SessionStore) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// RemoveIfIdle deletes the session only if it has not been updated since
// cutoff, checked under the session lock so a concurrent action wins.
func (st *SessionStore) RemoveIfIdle(id string, cutoff time.Time) (SessionView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return SessionView{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastUpdate.Before(cutoff) {
		return SessionView{}, false
	}
	delete(st.sessions, id)
	s.status = models.MatchStatusAborted
	return s.view(), true
}

// List returns a copy of every live session.
func (st *SessionStore) List() []SessionView {
	st.mu.RLock()
	all := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	out := make([]SessionView, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.view())
		s.mu.Unlock()
	}
	return out
}

// SessionsFor returns the live sessions identity is seated in.
func (st *SessionStore) SessionsFor(identity string) []SessionView {
	var out []SessionView
	for _, v := range st.List() {
		if v.PlayerNumber(identity) > 0 {
			out = append(out, v)
		}
	}
	return out
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
