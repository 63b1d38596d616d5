package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_JSONKeepsUnknownKeys(t *testing.T) {
	in := `{"uuid":"m1","units":[{"id":1}],"terrain":[],"turn":2,` +
		`"history":[{"player":1,"actionType":"move","seq":7}],"currentPlayer":2,"phase":"combat"}`

	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(in), &s))
	assert.Equal(t, "m1", s.UUID)
	assert.Equal(t, 2, s.Turn)
	assert.Len(t, s.Extra, 2)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestSnapshot_JSONWithoutExtras(t *testing.T) {
	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"units":[],"terrain":[],"turn":1,"history":[]}`), &s))
	assert.Nil(t, s.Extra)

	out, err := json.Marshal(NewSnapshot("m1", "1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"m1","scenario":"1","units":[],"terrain":[],"turn":1,"history":[]}`, string(out))
}

func TestSnapshot_KnownKeysWinOverExtra(t *testing.T) {
	s := NewSnapshot("m1", "1")
	s.Extra = map[string]json.RawMessage{"turn": json.RawMessage(`99`)}

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"m1","scenario":"1","units":[],"terrain":[],"turn":1,"history":[]}`, string(out))
}

func TestSnapshot_AppendHistory(t *testing.T) {
	s := NewSnapshot("m1", "1")
	when := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.AppendHistory(HistoryEntry{Player: 1, ActionType: "move", Payload: json.RawMessage(`{"to":3}`), When: when})
	s.AppendHistory(HistoryEntry{Player: 2, ActionType: "say", Payload: json.RawMessage(`not json`), When: when})
	s.AppendHistory(HistoryEntry{Player: 2, ActionType: "endTurn", When: when})

	require.Len(t, s.History, 3)
	assert.JSONEq(t, `{"player":1,"actionType":"move","payload":{"to":3},"when":"2025-03-01T12:00:00Z"}`, string(s.History[0]))
	assert.JSONEq(t, `{"player":2,"actionType":"say","payload":"not json","when":"2025-03-01T12:00:00Z"}`, string(s.History[1]))
	assert.JSONEq(t, `{"player":2,"actionType":"endTurn","when":"2025-03-01T12:00:00Z"}`, string(s.History[2]))
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := NewSnapshot("m1", "1")
	s.Units = append(s.Units, json.RawMessage(`{"id":1}`))
	s.Extra = map[string]json.RawMessage{"phase": json.RawMessage(`"combat"`)}

	c := s.Clone()
	c.Units[0][2] = 'X'
	c.Extra["phase"] = json.RawMessage(`"move"`)
	c.History = append(c.History, json.RawMessage(`{}`))

	assert.Equal(t, `{"id":1}`, string(s.Units[0]))
	assert.Equal(t, `"combat"`, string(s.Extra["phase"]))
	assert.Empty(t, s.History)
}
