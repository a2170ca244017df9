package scheduler

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentkit/runtime/agent/storage"
)

// TestNextAlarmIsMinimumProperty verifies the scheduler minimal alarm
// invariant: NextAlarm always equals min(nextRun) over all schedules, or is
// absent iff there are no schedules.
func TestNextAlarmIsMinimumProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("NextAlarm reports the earliest NextRun", prop.ForAll(
		func(nextRuns []int64) bool {
			schedules := make([]storage.Schedule, len(nextRuns))
			for i, ms := range nextRuns {
				schedules[i] = storage.Schedule{ID: "s", NextRun: ms}
			}

			alarm, ok := NextAlarm(schedules)
			if len(schedules) == 0 {
				return !ok
			}
			if !ok {
				return false
			}

			min := schedules[0].NextRun
			for _, sc := range schedules[1:] {
				if sc.NextRun < min {
					min = sc.NextRun
				}
			}
			return alarm.UnixMilli() == min
		},
		gen.SliceOf(gen.Int64Range(0, 1_000_000_000_000)),
	))

	properties.TestingRun(t)
}

// TestDueIsMonotoneInNowProperty verifies every schedule Due reports at an
// earlier now has NextRun no later than a later now, and that Due never
// reports fewer schedules as now advances.
func TestDueIsMonotoneInNowProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Due(schedules, later) is a superset of Due(schedules, earlier)", prop.ForAll(
		func(nextRuns []int64, nowMs, deltaMs int64) bool {
			schedules := make([]storage.Schedule, len(nextRuns))
			for i, ms := range nextRuns {
				schedules[i] = storage.Schedule{ID: "s", NextRun: ms}
			}

			earlier := time.UnixMilli(nowMs)
			later := time.UnixMilli(nowMs + deltaMs)

			dueEarlier := Due(schedules, earlier)
			dueLater := Due(schedules, later)

			for _, sc := range dueEarlier {
				if sc.NextRun > later.UnixMilli() {
					return false
				}
			}
			return len(dueLater) >= len(dueEarlier)
		},
		gen.SliceOf(gen.Int64Range(0, 1_000_000_000_000)),
		gen.Int64Range(0, 1_000_000_000_000),
		gen.Int64Range(0, 1_000_000_000),
	))

	properties.TestingRun(t)
}

// TestAdvanceKindProperty verifies Advance reschedules interval schedules
// (ok=true, strictly later NextRun). Cron rescheduling and one-shot deletion
// are covered by TestAdvanceReschedulesIntervalAndCronButDeletesOneShot.
func TestAdvanceKindProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	sched := New()

	properties.Property("interval schedules reschedule strictly forward", prop.ForAll(
		func(secs float64) bool {
			now := time.UnixMilli(1_700_000_000_000)
			row := storage.Schedule{ID: "s", Type: string(KindInterval), When: formatSeconds(secs), NextRun: now.UnixMilli()}
			advanced, ok, err := sched.Advance(now, row)
			if err != nil || !ok {
				return false
			}
			return advanced.NextRun > now.UnixMilli()
		},
		gen.Float64Range(0.01, 3600),
	))

	properties.TestingRun(t)
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}
