package services

import (
	"sync/atomic"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/models"
)

// DefaultSamplingPeriod is the sleep between two sampler ticks. The
// period is not drift compensated: a tick takes refresh + delivery time
// plus this sleep.
const DefaultSamplingPeriod = time.Second

var samplerLog = logger.Component("sampler")

// SampleSink receives the batches of one subscription. A non-nil error
// means the subscriber is gone and ends the sampler.
type SampleSink interface {
	Deliver(batch models.SampleBatch) error
}

// Sampler is the per-subscription loop: refresh counters, build a batch,
// deliver it, sleep.
type Sampler struct {
	id       string
	counters CounterSource
	sink     SampleSink
	period   time.Duration
	stop     *atomic.Bool
	wake     <-chan struct{}
	sequence uint64
	now      func() time.Time
}

// Run ticks until the stop flag is observed before a tick, delivery
// fails, or a counter refresh fails. A tick that has started always
// runs to completion.
func (s *Sampler) Run() error {
	err := tickLoop(s.stop, s.wake, s.period, s.tick)
	if err == nil {
		samplerLog.Debug().Str("subscription", s.id).Uint64("batches", s.sequence).Msg("Stop observed")
	}
	return err
}

func (s *Sampler) tick() error {
	if err := s.counters.Refresh(); err != nil {
		return err
	}

	if err := s.sink.Deliver(s.buildBatch()); err != nil {
		return errors.New().Wrap(errors.ErrDeliveryFailed, err)
	}
	return nil
}

// tickLoop calls tick, then sleeps period, until stop is set or tick
// fails. Closing wake cuts the sleep short.
func tickLoop(stop *atomic.Bool, wake <-chan struct{}, period time.Duration, tick func() error) error {
	for {
		if stop.Load() {
			return nil
		}

		if err := tick(); err != nil {
			return err
		}

		timer := time.NewTimer(period)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

func (s *Sampler) buildBatch() models.SampleBatch {
	cores := s.counters.Cores()
	global := s.counters.GlobalUsage()

	samples := make([]models.CoreSample, len(cores))
	for i, c := range cores {
		samples[i] = models.CoreSample{
			Index:              i,
			CoreID:             c.VendorID,
			CoreName:           c.Name,
			UsagePercent:       c.UsagePercent,
			FrequencyMHz:       c.FrequencyMHz,
			GlobalUsagePercent: global,
		}
	}

	s.sequence++
	return models.SampleBatch{
		SubscriptionID: s.id,
		Sequence:       s.sequence,
		Timestamp:      s.now(),
		Cores:          samples,
	}
}
