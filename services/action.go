package services

import (
	"bytes"
	"encoding/json"
	"fmt"

	"hexbattle-server/models"
)

// StateUpdateAction is the one action type the server interprets: its payload
// carries a full snapshot under "state" that replaces the current one.
const StateUpdateAction = "state:update"

// Action is either ReplaceState or GenericAction.
type Action interface {
	Type() string
	action()
}

type ReplaceState struct {
	Snapshot models.Snapshot
}

func (ReplaceState) Type() string { return StateUpdateAction }
func (ReplaceState) action()      {}

type GenericAction struct {
	Name    string
	Payload json.RawMessage
}

func (a GenericAction) Type() string { return a.Name }
func (GenericAction) action()        {}

// ParseAction classifies an incoming action. A state:update whose state is
// missing or does not decode as a snapshot is recorded like any other action.
func ParseAction(actionType string, payload json.RawMessage) (Action, error) {
	if actionType == "" {
		return nil, fmt.Errorf("%w: missing action type", ErrInvalidAction)
	}
	generic := GenericAction{Name: actionType, Payload: payload}
	if actionType != StateUpdateAction || len(payload) == 0 {
		return generic, nil
	}

	var body struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return generic, nil
	}
	if len(body.State) == 0 || bytes.Equal(body.State, []byte("null")) {
		return generic, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal(body.State, &snap); err != nil {
		return generic, nil
	}
	return ReplaceState{Snapshot: snap}, nil
}
