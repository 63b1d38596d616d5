package services

import (
	"context"
	"encoding/json"

	"hexbattle-server/models"
)

// Gateway is the durable store. Every call is made off the hot path through a
// DurableWriter, so implementations may be slow or fail without stalling relay.
type Gateway interface {
	CreateSession(ctx context.Context, sessionID, scenario string, snapshot models.Snapshot) (string, error)
	UpdateSession(ctx context.Context, sessionID string, snapshot models.Snapshot, status models.MatchStatus) error
	TouchSession(ctx context.Context, sessionID string) error
	AppendAction(ctx context.Context, internalID string, player int, actionType string, payload json.RawMessage) error
	CreateWaitingRecord(ctx context.Context, identity, username, scenario string) error
	MarkWaitingStatus(ctx context.Context, status models.LobbyStatus, identities ...string) error
	CreateParticipant(ctx context.Context, internalID, identity, username string, player int, reconnectToken string) error
	MarkParticipantDisconnected(ctx context.Context, internalID, identity string) error
	MarkParticipantReconnected(ctx context.Context, internalID, oldIdentity, newIdentity string) error
	MarkSessionAborted(ctx context.Context, sessionID string) error
	LoadLiveSessions(ctx context.Context) ([]models.Match, error)
}

// Transport delivers events to connections by identity.
type Transport interface {
	Send(identity, event string, payload any) error
	BroadcastAll(event string, payload any)
}

// DurableWriter runs persistence jobs in the background. Jobs sharing a key
// run in submission order. Enqueue never blocks; it reports false when the
// job was dropped.
type DurableWriter interface {
	Enqueue(key, op string, fn func(ctx context.Context) error) bool
}

// Archiver stores the final snapshot of a retired match.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, snapshot models.Snapshot) error
}

const (
	EventLobbyUpdate      = "lobby:update"
	EventLobbyExpired     = "lobby:expired"
	EventMatchFound       = "match:found"
	EventMatchAccepted    = "match:accepted"
	EventMatchResumed     = "match:resumed"
	EventActionReceived   = "match:action:recv"
	EventOpponentLeft     = "match:opponent:disconnected"
	EventOpponentReturned = "match:opponent:reconnected"
	EventError            = "error"
)

type LobbyEntry struct {
	Username string `json:"username"`
	Scenario string `json:"scenario"`
	SocketID string `json:"socketId"`
}

type MatchFound struct {
	UUID           string          `json:"uuid"`
	PlayerNumber   int             `json:"playerNumber"`
	InitialState   models.Snapshot `json:"initialState"`
	ReconnectToken string          `json:"reconnectToken"`
}

type MatchAccepted struct {
	UUID  string          `json:"uuid"`
	State models.Snapshot `json:"state"`
}

type MatchResumed struct {
	UUID         string          `json:"uuid"`
	PlayerNumber int             `json:"playerNumber"`
	State        models.Snapshot `json:"state"`
}

type ActionRelay struct {
	PlayerNumber int             `json:"playerNumber"`
	ActionType   string          `json:"actionType"`
	Payload      json.RawMessage `json:"payload"`
}

type OpponentPresence struct {
	UUID         string `json:"uuid"`
	PlayerNumber int    `json:"playerNumber"`
}

type ErrorEvent struct {
	Msg string `json:"msg"`
}
