// Package scheduler computes and tracks per-instance callback schedules
// (delayed, absolute, cron, interval), collapsing them into the single
// minimal next-fire alarm an AgentInstance actor arms at any given moment.
// Grounded on the interval/cron task bookkeeping pattern used by the pack's
// robfig/cron-based schedulers, adapted from a goroutine-per-task runner
// into pure next-fire computation driven by the instance actor's own timer.
package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/robfig/cron"
	"github.com/google/uuid"

	"github.com/agentkit/runtime/agent/storage"
)

// Kind enumerates the four callback schedule shapes.
type Kind string

const (
	KindDelayed  Kind = "delayed"
	KindAbsolute Kind = "absolute"
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
)

// Scheduler computes next-run times for an instance's schedules and
// produces the storage.Schedule rows an AgentInstance persists. It holds no
// goroutines of its own: the owning instance actor is the single writer and
// drives a time.Timer off whatever this type reports as the next deadline.
type Scheduler struct{}

// New constructs a Scheduler. It is stateless; all schedule state lives in
// storage.Schedule rows owned by the instance.
func New() *Scheduler { return &Scheduler{} }

// Schedule computes a new storage.Schedule row for the given callback and
// kind/when pair. now is injected by the caller (normally time.Now) so tests
// can control it.
func (s *Scheduler) Schedule(now time.Time, callback string, kind Kind, when string, payload []byte) (storage.Schedule, error) {
	next, err := s.nextRun(now, kind, when)
	if err != nil {
		return storage.Schedule{}, err
	}
	return storage.Schedule{
		ID:       uuid.NewString(),
		Callback: callback,
		Type:     string(kind),
		When:     when,
		NextRun:  next.UnixMilli(),
		Payload:  payload,
	}, nil
}

// nextRun computes the next fire time for a schedule kind/when pair.
func (s *Scheduler) nextRun(now time.Time, kind Kind, when string) (time.Time, error) {
	switch kind {
	case KindDelayed:
		secs, err := strconv.ParseFloat(when, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid delayed seconds %q: %w", when, err)
		}
		return now.Add(time.Duration(secs * float64(time.Second))), nil
	case KindAbsolute:
		ms, err := strconv.ParseInt(when, 10, 64)
		if err != nil {
			t, perr := time.Parse(time.RFC3339, when)
			if perr != nil {
				return time.Time{}, fmt.Errorf("scheduler: invalid absolute time %q: %w", when, err)
			}
			return t, nil
		}
		return time.UnixMilli(ms), nil
	case KindCron:
		sched, err := cron.ParseStandard(when)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", when, err)
		}
		return sched.Next(now), nil
	case KindInterval:
		secs, err := strconv.ParseFloat(when, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid interval seconds %q: %w", when, err)
		}
		return now.Add(time.Duration(secs * float64(time.Second))), nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown kind %q", kind)
	}
}

// Advance recomputes a schedule's NextRun after it fires. Cron and interval
// schedules reschedule themselves and are returned with ok=true; delayed and
// absolute schedules are one-shot and are reported with ok=false so the
// caller deletes them.
func (s *Scheduler) Advance(now time.Time, sched storage.Schedule) (storage.Schedule, bool, error) {
	switch Kind(sched.Type) {
	case KindCron, KindInterval:
		next, err := s.nextRun(now, Kind(sched.Type), sched.When)
		if err != nil {
			return storage.Schedule{}, false, err
		}
		sched.NextRun = next.UnixMilli()
		return sched, true, nil
	default:
		return storage.Schedule{}, false, nil
	}
}

// NextAlarm returns the earliest NextRun across all of an instance's
// schedules, and false if there are none. This is the single value an
// instance actor arms its time.Timer against; there is never more than one
// live timer per instance regardless of how many schedules it holds.
func NextAlarm(schedules []storage.Schedule) (time.Time, bool) {
	if len(schedules) == 0 {
		return time.Time{}, false
	}
	sorted := make([]storage.Schedule, len(schedules))
	copy(sorted, schedules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NextRun < sorted[j].NextRun })
	return time.UnixMilli(sorted[0].NextRun), true
}

// Due returns the subset of schedules whose NextRun is at or before now, in
// NextRun order.
func Due(schedules []storage.Schedule, now time.Time) []storage.Schedule {
	nowMs := now.UnixMilli()
	var due []storage.Schedule
	for _, sc := range schedules {
		if sc.NextRun <= nowMs {
			due = append(due, sc)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun < due[j].NextRun })
	return due
}
