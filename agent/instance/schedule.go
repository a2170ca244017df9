package instance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentkit/runtime/agent/eventlog"
	"github.com/agentkit/runtime/agent/scheduler"
	"github.com/agentkit/runtime/agent/storage"
)

// armAlarmLocked computes the single earliest pending schedule across this
// instance and arms exactly one time.AfterFunc against it, replacing any
// previously armed alarm. Called with i.mu held.
func (i *Instance) armAlarmLocked(ctx context.Context) {
	if i.alarm != nil {
		i.alarm.Stop()
		i.alarm = nil
	}
	schedules, err := i.backend.ListSchedules(ctx, i.ID)
	if err != nil {
		return
	}
	next, ok := scheduler.NextAlarm(schedules)
	if !ok {
		return
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	i.alarm = time.AfterFunc(delay, func() {
		i.submitAsync(func(ctx context.Context) { i.fireDueSchedules(ctx) })
	})
}

// fireDueSchedules invokes every schedule whose NextRun has passed, advances
// or deletes each one, persists the result, and re-arms the single alarm.
// Must only run inside the actor.
func (i *Instance) fireDueSchedules(ctx context.Context) {
	schedules, err := i.backend.ListSchedules(ctx, i.ID)
	if err != nil {
		return
	}
	now := time.Now()
	due := scheduler.Due(schedules, now)
	for _, sched := range due {
		handler, ok := i.registry.callback(sched.Callback)
		if ok {
			if err := handler(ctx, i.ID, sched.Payload); err != nil {
				i.events.Append(ctx, eventlog.TypeToolError, i.ID.String(), mustJSON(map[string]any{
					"scheduleId": sched.ID, "callback": sched.Callback, "error": err.Error(),
				}))
			}
		}
		advanced, keep, err := i.sched.Advance(now, sched)
		if err != nil {
			continue
		}
		if keep {
			_ = i.backend.UpsertSchedule(ctx, i.ID, advanced)
		} else {
			_, _ = i.backend.DeleteSchedule(ctx, i.ID, sched.ID)
		}
	}
	i.mu.Lock()
	i.armAlarmLocked(ctx)
	i.mu.Unlock()
}

// ScheduleCallback implements POST /{class}/{name}/schedule: it registers a
// new schedule row and re-arms the alarm if this is now the earliest one.
func (i *Instance) ScheduleCallback(ctx context.Context, callback string, kind scheduler.Kind, when string, payload json.RawMessage) (storage.Schedule, error) {
	var result storage.Schedule
	var outErr error
	i.submit(func(ctx context.Context) {
		sched, err := i.sched.Schedule(time.Now(), callback, kind, when, payload)
		if err != nil {
			outErr = err
			return
		}
		if err := i.backend.UpsertSchedule(ctx, i.ID, sched); err != nil {
			outErr = err
			return
		}
		i.mu.Lock()
		i.armAlarmLocked(ctx)
		i.mu.Unlock()
		result = sched
	})
	return result, outErr
}

// CancelSchedule implements DELETE /{class}/{name}/schedule/{id}.
func (i *Instance) CancelSchedule(ctx context.Context, scheduleID string) (bool, error) {
	var existed bool
	var outErr error
	i.submit(func(ctx context.Context) {
		existed, outErr = i.backend.DeleteSchedule(ctx, i.ID, scheduleID)
		if outErr == nil {
			i.mu.Lock()
			i.armAlarmLocked(ctx)
			i.mu.Unlock()
		}
	})
	return existed, outErr
}

// ListSchedules implements GET /{class}/{name}/schedule.
func (i *Instance) ListSchedules(ctx context.Context) ([]storage.Schedule, error) {
	return i.backend.ListSchedules(ctx, i.ID)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
