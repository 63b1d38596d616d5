package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Snapshot is the full game state of a match. Units, terrain and history
// entries are opaque to the server; the server only ever appends to history.
// Top-level keys the server does not know about are kept in Extra so a
// client-supplied state reads back unchanged.
type Snapshot struct {
	UUID     string            `json:"uuid,omitempty"`
	Scenario string            `json:"scenario,omitempty"`
	Units    []json.RawMessage `json:"units"`
	Terrain  []json.RawMessage `json:"terrain"`
	Turn     int               `json:"turn"`
	History  []json.RawMessage `json:"history"`

	Extra map[string]json.RawMessage `json:"-"`
}

var snapshotKeys = []string{"uuid", "scenario", "units", "terrain", "turn", "history"}

// snapshotFields has Snapshot's layout without its JSON methods.
type snapshotFields Snapshot

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var fields snapshotFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range snapshotKeys {
		delete(all, k)
	}
	fields.Extra = nil
	if len(all) > 0 {
		fields.Extra = all
	}
	*s = Snapshot(fields)
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(snapshotFields(s))
	if err != nil || len(s.Extra) == 0 {
		return base, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(base, &all); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := all[k]; !known {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// HistoryEntry is what the server appends for every non-replacing action.
type HistoryEntry struct {
	Player     int             `json:"player"`
	ActionType string          `json:"actionType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	When       time.Time       `json:"when"`
}

// AppendHistory encodes e onto the history. A payload that is not valid JSON
// is recorded as a JSON string.
func (s *Snapshot) AppendHistory(e HistoryEntry) {
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		quoted, _ := json.Marshal(string(e.Payload))
		e.Payload = quoted
	}
	raw, _ := json.Marshal(e)
	s.History = append(s.History, raw)
}

// NewSnapshot returns the state every match starts from.
func NewSnapshot(uuid, scenario string) Snapshot {
	return Snapshot{
		UUID:     uuid,
		Scenario: scenario,
		Units:    []json.RawMessage{},
		Terrain:  []json.RawMessage{},
		Turn:     1,
		History:  []json.RawMessage{},
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Units = cloneRaw(s.Units)
	out.Terrain = cloneRaw(s.Terrain)
	out.History = cloneRaw(s.History)
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func cloneRaw(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return nil
	}
	out := make([]json.RawMessage, len(in))
	for i, r := range in {
		out[i] = append(json.RawMessage(nil), r...)
	}
	return out
}
