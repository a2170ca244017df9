package eventlog

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	log := New(10)
	e1 := log.Append(context.Background(), TypeRunStarted, "t1", nil)
	e2 := log.Append(context.Background(), TypeRunTick, "t1", nil)
	require.Equal(t, uint64(1), e1.Seq)
	require.Equal(t, uint64(2), e2.Seq)
}

func TestAppendEvictsOldestBeyondCapacity(t *testing.T) {
	log := New(2)
	log.Append(context.Background(), TypeRunStarted, "t1", nil)
	log.Append(context.Background(), TypeRunTick, "t1", nil)
	log.Append(context.Background(), TypeRunCanceled, "t1", nil)

	snap := log.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, TypeRunTick, snap[0].Type)
	require.Equal(t, TypeRunCanceled, snap[1].Type)
}

func TestSubscriberErrorDoesNotStopFanout(t *testing.T) {
	log := New(10)
	var calledFirst, calledSecond atomic.Bool

	_, err := log.Subscribe(SubscriberFunc(func(ctx context.Context, event Event) error {
		calledFirst.Store(true)
		return assertErr
	}))
	require.NoError(t, err)
	_, err = log.Subscribe(SubscriberFunc(func(ctx context.Context, event Event) error {
		calledSecond.Store(true)
		return nil
	}))
	require.NoError(t, err)

	log.Append(context.Background(), TypeRunStarted, "t1", nil)

	require.True(t, calledFirst.Load())
	require.True(t, calledSecond.Load())
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	log := New(10)
	var count atomic.Int32
	sub, err := log.Subscribe(SubscriberFunc(func(ctx context.Context, event Event) error {
		count.Add(1)
		return nil
	}))
	require.NoError(t, err)

	log.Append(context.Background(), TypeRunStarted, "t1", nil)
	sub.Close()
	log.Append(context.Background(), TypeRunTick, "t1", nil)

	require.Equal(t, int32(1), count.Load())
}

func TestRestoreSeedsRingAndSeq(t *testing.T) {
	log := New(10)
	events := []Event{{Seq: 1, Type: TypeRunStarted}, {Seq: 2, Type: TypeRunTick}}
	log.Restore(events, 2)

	require.Equal(t, uint64(2), log.Seq())
	e3 := log.Append(context.Background(), TypeRunCanceled, "t1", nil)
	require.Equal(t, uint64(3), e3.Seq)
}

var assertErr = errTest{}

type errTest struct{}

func (errTest) Error() string { return "subscriber failure" }
