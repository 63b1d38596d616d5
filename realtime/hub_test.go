package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hexbattle-server/services"
)

func TestHub_SendDeliversJSON(t *testing.T) {
	h := NewHub(4)
	c := h.Register()
	assert.True(t, h.Connected(c.ID))

	require.NoError(t, h.Send(c.ID, "match:found", map[string]any{"uuid": "m1"}))

	e := <-c.Events()
	assert.Equal(t, "match:found", e.Name)
	assert.JSONEq(t, `{"uuid":"m1"}`, string(e.Data))
}

func TestHub_SendUnknownConnection(t *testing.T) {
	h := NewHub(4)
	assert.ErrorIs(t, h.Send("ghost", "x", nil), ErrUnknownConnection)
}

func TestHub_SlowConsumerDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	c := h.Register()

	require.NoError(t, h.Send(c.ID, "a", 1))
	assert.ErrorIs(t, h.Send(c.ID, "b", 2), ErrSlowConsumer)
}

func TestHub_SendEncodeError(t *testing.T) {
	h := NewHub(1)
	c := h.Register()
	assert.Error(t, h.Send(c.ID, "bad", make(chan int)))
}

func TestHub_BroadcastAll(t *testing.T) {
	h := NewHub(4)
	a, b := h.Register(), h.Register()
	assert.Equal(t, 2, h.Count())

	h.BroadcastAll("lobby:update", []string{"x"})

	for _, c := range []*Conn{a, b} {
		e := <-c.Events()
		var got []string
		require.NoError(t, json.Unmarshal(e.Data, &got))
		assert.Equal(t, []string{"x"}, got)
	}
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub(4)
	c := h.Register()

	assert.True(t, h.Unregister(c.ID))
	assert.False(t, h.Unregister(c.ID))
	assert.False(t, h.Connected(c.ID))
	assert.Zero(t, h.Count())

	select {
	case <-c.Done():
	default:
		t.Fatal("connection not closed")
	}
	assert.ErrorIs(t, h.Send(c.ID, "x", nil), ErrUnknownConnection)
	assert.ErrorIs(t, deliver(c, Event{Name: "x"}), ErrUnknownConnection)
}

func TestHub_ErrorsAreTransportFailures(t *testing.T) {
	h := NewHub(1)
	assert.ErrorIs(t, h.Send("ghost", "x", nil), services.ErrTransport)
}
