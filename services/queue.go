package services

import (
	"sync"
	"time"
)

// Ticket is a connection waiting to be paired.
type Ticket struct {
	Identity   string    `json:"socketId"`
	Username   string    `json:"username"`
	Scenario   string    `json:"scenario"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Compatible reports whether two tickets may share a match: same scenario, or
// at least one side accepts any scenario.
func Compatible(a, b Ticket) bool {
	return a.Scenario == b.Scenario || a.Scenario == "" || b.Scenario == ""
}

// MatchQueue holds waiting tickets in arrival order.
type MatchQueue struct {
	mu      sync.Mutex
	tickets []Ticket
}

func NewMatchQueue() *MatchQueue {
	return &MatchQueue{}
}

func (q *MatchQueue) Enqueue(t Ticket) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(t.Identity) >= 0 {
		return ErrAlreadyQueued
	}
	q.tickets = append(q.tickets, t)
	return nil
}

// TryPair takes the earliest ticket and checks it against every later one in
// arrival order, then moves on to the next earliest. The first compatible pair
// is removed and returned as (earlier, later).
func (q *MatchQueue) TryPair() (Ticket, Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tickets)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := q.tickets[i], q.tickets[j]
			if !Compatible(a, b) {
				continue
			}
			q.tickets = append(q.tickets[:j], q.tickets[j+1:]...)
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			return a, b, true
		}
	}
	return Ticket{}, Ticket{}, false
}

// Remove drops the ticket for identity, if any.
func (q *MatchQueue) Remove(identity string) (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(identity)
	if i < 0 {
		return Ticket{}, false
	}
	t := q.tickets[i]
	q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
	return t, true
}

// Requeue puts tickets back at the head of the queue, keeping their order.
// Identities that re-joined in the meantime are skipped.
func (q *MatchQueue) Requeue(tickets ...Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := make([]Ticket, 0, len(tickets)+len(q.tickets))
	for _, t := range tickets {
		if q.indexOf(t.Identity) < 0 {
			head = append(head, t)
		}
	}
	q.tickets = append(head, q.tickets...)
}

// Expire removes and returns tickets enqueued before cutoff.
func (q *MatchQueue) Expire(cutoff time.Time) []Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []Ticket
	kept := q.tickets[:0]
	for _, t := range q.tickets {
		if t.EnqueuedAt.Before(cutoff) {
			expired = append(expired, t)
			continue
		}
		kept = append(kept, t)
	}
	q.tickets = kept
	return expired
}

// Waiting returns a copy of the queue in arrival order.
func (q *MatchQueue) Waiting() []Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Ticket, len(q.tickets))
	copy(out, q.tickets)
	return out
}

func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets)
}

func (q *MatchQueue) indexOf(identity string) int {
	for i, t := range q.tickets {
		if t.Identity == identity {
			return i
		}
	}
	return -1
}
