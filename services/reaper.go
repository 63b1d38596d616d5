package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2/log"

	"hexbattle-server/models"
)

// Reaper checkpoints live sessions and retires the ones nobody touched within
// StaleAfter. With TicketTTL > 0 it also drops tickets that waited too long.
type Reaper struct {
	Store      *SessionStore
	Queue      *MatchQueue
	Gateway    Gateway
	Transport  Transport
	Writer     DurableWriter
	Archiver   Archiver
	Interval   time.Duration
	StaleAfter time.Duration
	TicketTTL  time.Duration
}

type SweepResult struct {
	Checkpointed int
	Aborted      []string
	Expired      []Ticket
}

// Sweep runs one reaper tick as of now.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	cutoff := now.Add(-r.StaleAfter)

	for _, v := range r.Store.List() {
		if v.LastUpdate.Before(cutoff) {
			retired, ok := r.Store.RemoveIfIdle(v.ID, cutoff)
			if !ok {
				continue
			}
			res.Aborted = append(res.Aborted, retired.ID)
			r.retire(retired)
			continue
		}

		id, snap := v.ID, v.Snapshot
		r.Writer.Enqueue(id, "checkpoint match", func(ctx context.Context) error {
			return r.Gateway.UpdateSession(ctx, id, snap, models.MatchStatusPlaying)
		})
		res.Checkpointed++
	}

	if r.TicketTTL > 0 && r.Queue != nil {
		res.Expired = r.expireTickets(now.Add(-r.TicketTTL))
	}

	if len(res.Aborted) > 0 || len(res.Expired) > 0 {
		log.Infof("[REAPER] 🧹 checkpointed=%d aborted=%d expired_tickets=%d",
			res.Checkpointed, len(res.Aborted), len(res.Expired))
	}
	return res
}

func (r *Reaper) retire(v SessionView) {
	log.Infof("[REAPER] ⏹️ match %s idle since %s, aborting", v.ID, v.LastUpdate.Format(time.RFC3339))
	r.Writer.Enqueue(v.ID, "abort match", func(ctx context.Context) error {
		return r.Gateway.MarkSessionAborted(ctx, v.ID)
	})
	if r.Archiver != nil {
		r.Writer.Enqueue(v.ID, "archive match", func(ctx context.Context) error {
			return r.Archiver.Archive(ctx, v.ID, v.Snapshot)
		})
	}
}

func (r *Reaper) expireTickets(cutoff time.Time) []Ticket {
	expired := r.Queue.Expire(cutoff)
	if len(expired) == 0 {
		return nil
	}
	for _, t := range expired {
		identity := t.Identity
		r.Writer.Enqueue(identity, "expire waiting record", func(ctx context.Context) error {
			return r.Gateway.MarkWaitingStatus(ctx, models.LobbyStatusExpired, identity)
		})
		if err := r.Transport.Send(identity, EventLobbyExpired, ErrorEvent{Msg: "no opponent found"}); err != nil {
			log.Debugf("[REAPER] could not notify expired ticket %s: %v", identity, err)
		}
	}
	broadcastLobby(r.Transport, r.Queue)
	return expired
}

// Start schedules Sweep every Interval. The caller shuts the scheduler down.
func (r *Reaper) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create reaper scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			r.Sweep(ctx, time.Now())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule reaper: %w", err)
	}

	sched.Start()
	log.Infof("[REAPER] ✅ running every %s, stale after %s", r.Interval, r.StaleAfter)
	return sched, nil
}
