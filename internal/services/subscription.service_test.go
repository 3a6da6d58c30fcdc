package services

import (
	stderrors "errors"
	"testing"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPeriod = 10 * time.Millisecond

func newTestController(counters *fakeCounters, opts ...SubscriptionOption) *SubscriptionController {
	base := []SubscriptionOption{
		WithCounterFactory(fakeFactory(counters)),
		WithIdentificationSource(&fakeIDs{}),
		WithProcessFactory(fakeProcessFactory(&fakeProcesses{})),
		WithSamplingPeriod(testPeriod),
	}
	return NewSubscriptionController(append(base, opts...)...)
}

func waitDone(t *testing.T, handle *SubscriptionHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not exit")
	}
}

func TestSubscriptionFirstBatch(t *testing.T) {
	controller := newTestController(quadCore())
	sink := newRecordingSink()

	caps, handle, err := controller.Start(sink)
	require.NoError(t, err)
	defer controller.Stop(handle)

	assert.Equal(t, 4, caps.LogicalCoreCount)
	assert.Equal(t, 2, caps.PhysicalCoreCount)

	select {
	case <-sink.first:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}

	batch := sink.all()[0]
	assert.Equal(t, uint64(1), batch.Sequence)
	assert.Equal(t, handle.ID(), batch.SubscriptionID)
	require.Len(t, batch.Cores, 4)
	for i, core := range batch.Cores {
		assert.Equal(t, i, core.Index)
		assert.Equal(t, "GenuineIntel", core.CoreID)
		assert.Equal(t, 25.0, core.GlobalUsagePercent)
		assert.GreaterOrEqual(t, core.UsagePercent, 0.0)
		assert.LessOrEqual(t, core.UsagePercent, 100.0)
	}
	assert.Equal(t, "cpu2", batch.Cores[2].CoreName)
	assert.Equal(t, uint64(2500), batch.Cores[2].FrequencyMHz)
}

func TestSubscriptionSequenceIncreases(t *testing.T) {
	controller := newTestController(quadCore())
	sink := newRecordingSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, testPeriod)
	controller.Stop(handle)
	waitDone(t, handle)

	batches := sink.all()
	for i, batch := range batches {
		assert.Equal(t, uint64(i+1), batch.Sequence)
		if i > 0 {
			assert.False(t, batch.Timestamp.Before(batches[i-1].Timestamp))
		}
	}
}

func TestSubscriptionStopBeforeFirstTick(t *testing.T) {
	controller := newTestController(quadCore())
	sink := newRecordingSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)
	controller.Stop(handle)
	waitDone(t, handle)

	assert.LessOrEqual(t, sink.count(), 1)
	assert.NoError(t, handle.Err())
}

func TestSubscriptionNoBatchesAfterStop(t *testing.T) {
	controller := newTestController(quadCore())
	sink := newRecordingSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, testPeriod)
	controller.Stop(handle)
	waitDone(t, handle)

	delivered := sink.count()
	time.Sleep(5 * testPeriod)
	assert.Equal(t, delivered, sink.count())
	assert.True(t, handle.Stopped())
}

func TestSubscriptionStopWakesSleep(t *testing.T) {
	controller := newTestController(quadCore(), WithSamplingPeriod(time.Hour))
	sink := newRecordingSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)

	<-sink.first
	start := time.Now()
	StopSubscription(handle)
	waitDone(t, handle)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, sink.count())
}

func TestSubscriptionStopIdempotent(t *testing.T) {
	controller := newTestController(quadCore())

	_, handle, err := controller.Start(newRecordingSink())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		handle.Stop()
		handle.Stop()
		controller.Stop(handle)
		controller.Stop(nil)
	})
	waitDone(t, handle)
}

func TestSubscriptionDeliveryFailure(t *testing.T) {
	counters := quadCore()
	controller := newTestController(counters)
	sink := newRecordingSink()
	sink.fail = true

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)
	waitDone(t, handle)

	err = handle.Err()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrDeliveryFailed))
	assert.True(t, errors.HasCode(err, errors.ErrSubscriberGone))
	assert.Equal(t, int64(1), counters.refreshes.Load())
}

func TestSubscriptionRefreshFailure(t *testing.T) {
	counters := quadCore()
	counters.refreshErr = errors.New().Wrap(errors.ErrCounterRefresh, stderrors.New("read failed"))
	controller := newTestController(counters)
	sink := newRecordingSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)
	waitDone(t, handle)

	assert.True(t, errors.HasCode(handle.Err(), errors.ErrCounterRefresh))
	assert.Equal(t, 0, sink.count())
}

func TestSubscriptionCounterInitFailure(t *testing.T) {
	t.Run("factory error", func(t *testing.T) {
		controller := NewSubscriptionController(
			WithCounterFactory(func() (CounterSource, error) { return nil, stderrors.New("denied") }),
			WithIdentificationSource(&fakeIDs{}),
		)

		_, handle, err := controller.Start(newRecordingSink())
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.True(t, errors.HasCode(err, errors.ErrCounterInit))
	})

	t.Run("no cores", func(t *testing.T) {
		controller := newTestController(&fakeCounters{})

		_, handle, err := controller.Start(newRecordingSink())
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.True(t, errors.HasCode(err, errors.ErrCounterInit))
	})
}

func TestSubscriptionsAreIndependent(t *testing.T) {
	controller := newTestController(quadCore())
	first, second := newRecordingSink(), newRecordingSink()

	_, h1, err := controller.Start(first)
	require.NoError(t, err)
	_, h2, err := controller.Start(second)
	require.NoError(t, err)
	defer h2.Stop()

	assert.NotEqual(t, h1.ID(), h2.ID())

	h1.Stop()
	waitDone(t, h1)

	before := second.count()
	require.Eventually(t, func() bool { return second.count() > before }, 2*time.Second, testPeriod)
}

func TestChannelSink(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		sink := NewChannelSink(2, testPeriod)
		require.NoError(t, sink.Deliver(models.SampleBatch{Sequence: 1}))
		require.NoError(t, sink.Deliver(models.SampleBatch{Sequence: 2}))

		assert.Equal(t, uint64(1), (<-sink.C()).Sequence)
		assert.Equal(t, uint64(2), (<-sink.C()).Sequence)
	})

	t.Run("full sink times out", func(t *testing.T) {
		sink := NewChannelSink(1, testPeriod)
		require.NoError(t, sink.Deliver(models.SampleBatch{Sequence: 1}))

		err := sink.Deliver(models.SampleBatch{Sequence: 2})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrSubscriberGone))
	})

	t.Run("closed sink fails", func(t *testing.T) {
		sink := NewChannelSink(0, 0)
		sink.Close()
		sink.Close()

		err := sink.Deliver(models.SampleBatch{})
		assert.True(t, errors.HasCode(err, errors.ErrSubscriberGone))
	})
}

func TestChannelSinkClosedAfterSamplerExit(t *testing.T) {
	controller := newTestController(quadCore())
	sink := controller.NewSink()

	_, handle, err := controller.Start(sink)
	require.NoError(t, err)
	go sink.finish(handle)

	first, ok := <-sink.C()
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.Sequence)

	handle.Stop()
	waitDone(t, handle)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-sink.C():
			return !open
		default:
			return false
		}
	}, 2*time.Second, testPeriod)
}
