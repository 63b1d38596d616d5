package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hexbattle-server/models"
)

type sentEvent struct {
	To      string
	Event   string
	Payload any
}

type fakeTransport struct {
	mu         sync.Mutex
	sent       []sentEvent
	broadcasts []sentEvent
	failFor    map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failFor: map[string]bool{}}
}

func (t *fakeTransport) Send(identity, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[identity] {
		return fmt.Errorf("%w: %s gone", ErrTransport, identity)
	}
	t.sent = append(t.sent, sentEvent{To: identity, Event: event, Payload: payload})
	return nil
}

func (t *fakeTransport) BroadcastAll(event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcasts = append(t.broadcasts, sentEvent{Event: event, Payload: payload})
}

func (t *fakeTransport) to(identity string) []sentEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentEvent
	for _, e := range t.sent {
		if e.To == identity {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) eventsNamed(identity, event string) []sentEvent {
	var out []sentEvent
	for _, e := range t.to(identity) {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) lastBroadcast() sentEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.broadcasts) == 0 {
		return sentEvent{}
	}
	return t.broadcasts[len(t.broadcasts)-1]
}

// queuedWriter holds jobs until drain is called, the way a background worker
// would run them after the handler returns.
type queuedWriter struct {
	mu   sync.Mutex
	jobs []queuedJob
}

type queuedJob struct {
	key, op string
	fn      func(ctx context.Context) error
}

func (w *queuedWriter) Enqueue(key, op string, fn func(ctx context.Context) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, queuedJob{key: key, op: op, fn: fn})
	return true
}

func (w *queuedWriter) ops() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.jobs))
	for i, j := range w.jobs {
		out[i] = j.op
	}
	return out
}

// drain runs every pending job in order and returns their errors.
func (w *queuedWriter) drain() []error {
	w.mu.Lock()
	jobs := w.jobs
	w.jobs = nil
	w.mu.Unlock()

	var errs []error
	for _, j := range jobs {
		if err := j.fn(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

type gatewayCall struct {
	Op   string
	Args []any
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	statuses map[string]models.MatchStatus
	states   map[string]models.Snapshot
	live     []models.Match
	fail     bool
	nextID   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: map[string]models.MatchStatus{},
		states:   map[string]models.Snapshot{},
	}
}

var errGatewayDown = errors.New("gateway down")

func (g *fakeGateway) record(op string, args ...any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{Op: op, Args: args})
	if g.fail {
		return errGatewayDown
	}
	return nil
}

func (g *fakeGateway) callsTo(op string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) status(id string) models.MatchStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[id]
}

func (g *fakeGateway) CreateSession(_ context.Context, sessionID, scenario string, snapshot models.Snapshot) (string, error) {
	if err := g.record("CreateSession", sessionID, scenario); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.statuses[sessionID] = models.MatchStatusWaiting
	g.states[sessionID] = snapshot
	return fmt.Sprintf("row-%d", g.nextID), nil
}

func (g *fakeGateway) UpdateSession(_ context.Context, sessionID string, snapshot models.Snapshot, status models.MatchStatus) error {
	if err := g.record("UpdateSession", sessionID, status); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = status
	g.states[sessionID] = snapshot
	return nil
}

func (g *fakeGateway) TouchSession(_ context.Context, sessionID string) error {
	return g.record("TouchSession", sessionID)
}

func (g *fakeGateway) AppendAction(_ context.Context, internalID string, player int, actionType string, payload json.RawMessage) error {
	return g.record("AppendAction", internalID, player, actionType, string(payload))
}

func (g *fakeGateway) CreateWaitingRecord(_ context.Context, identity, username, scenario string) error {
	return g.record("CreateWaitingRecord", identity, username, scenario)
}

func (g *fakeGateway) MarkWaitingStatus(_ context.Context, status models.LobbyStatus, identities ...string) error {
	args := []any{status}
	for _, id := range identities {
		args = append(args, id)
	}
	return g.record("MarkWaitingStatus", args...)
}

func (g *fakeGateway) CreateParticipant(_ context.Context, internalID, identity, username string, player int, reconnectToken string) error {
	return g.record("CreateParticipant", internalID, identity, username, player, reconnectToken)
}

func (g *fakeGateway) MarkParticipantDisconnected(_ context.Context, internalID, identity string) error {
	return g.record("MarkParticipantDisconnected", internalID, identity)
}

func (g *fakeGateway) MarkParticipantReconnected(_ context.Context, internalID, oldIdentity, newIdentity string) error {
	return g.record("MarkParticipantReconnected", internalID, oldIdentity, newIdentity)
}

func (g *fakeGateway) MarkSessionAborted(_ context.Context, sessionID string) error {
	if err := g.record("MarkSessionAborted", sessionID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = models.MatchStatusAborted
	return nil
}

func (g *fakeGateway) LoadLiveSessions(_ context.Context) ([]models.Match, error) {
	if err := g.record("LoadLiveSessions"); err != nil {
		return nil, err
	}
	return g.live, nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived map[string]models.Snapshot
}

func (a *fakeArchiver) Archive(_ context.Context, sessionID string, snapshot models.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		a.archived = map[string]models.Snapshot{}
	}
	a.archived[sessionID] = snapshot
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       *MatchService
	gateway   *fakeGateway
	transport *fakeTransport
	writer    *queuedWriter
	clock     *fakeClock
}

func newHarness() *harness {
	gw := newFakeGateway()
	tr := newFakeTransport()
	w := &queuedWriter{}
	clock := newFakeClock()

	svc := NewMatchService(gw, tr, w)
	svc.now = clock.Now
	svc.Store.now = clock.Now

	ids := 0
	svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return &harness{svc: svc, gateway: gw, transport: tr, writer: w, clock: clock}
}

// pairUp joins two connections with the same scenario and returns the new
// session ID.
func (h *harness) pairUp(a, b, scenario string) string {
	ctx := context.Background()
	if err := h.svc.Join(ctx, a, a, scenario); err != nil {
		panic(err)
	}
	if err := h.svc.Join(ctx, b, b, scenario); err != nil {
		panic(err)
	}
	found := h.transport.eventsNamed(a, EventMatchFound)
	if len(found) != 1 {
		panic("no match found for " + a)
	}
	return found[0].Payload.(MatchFound).UUID
}
