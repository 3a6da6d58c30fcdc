package services

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/models"
	"monsoon/internal/procid"
)

var subscriptionLog = logger.Component("subscription")

// SubscriptionHandle owns the cancellation flag and the lifetime of one
// sampler goroutine. The goroutine ends exactly once and is never
// restarted.
type SubscriptionHandle struct {
	id       string
	stopped  atomic.Bool
	wake     chan struct{}
	wakeOnce sync.Once
	done     chan struct{}
	err      error
}

func newSubscriptionHandle(id string) *SubscriptionHandle {
	return &SubscriptionHandle{
		id:   id,
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// ID identifies the subscription in logs
func (h *SubscriptionHandle) ID() string {
	return h.id
}

// Stop requests cancellation and returns immediately. The sampler exits
// before its next tick. Calling Stop again has no effect.
func (h *SubscriptionHandle) Stop() {
	h.stopped.Store(true)
	h.wakeOnce.Do(func() { close(h.wake) })
}

// Stopped reports whether Stop has been called
func (h *SubscriptionHandle) Stopped() bool {
	return h.stopped.Load()
}

// Done is closed once the sampler goroutine has exited
func (h *SubscriptionHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the sampler exited: nil after Stop, otherwise a
// delivery or counter refresh failure. Only meaningful after Done.
func (h *SubscriptionHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// SubscriptionController starts and stops capability and process
// subscriptions
type SubscriptionController struct {
	counters        CounterFactory
	processes       ProcessFactory
	ids             procid.Source
	period          time.Duration
	buffer          int
	deliveryTimeout time.Duration
	nextID          atomic.Uint64
}

// SubscriptionOption configures a SubscriptionController
type SubscriptionOption func(*SubscriptionController)

// WithCounterFactory replaces the host counter source
func WithCounterFactory(factory CounterFactory) SubscriptionOption {
	return func(c *SubscriptionController) {
		c.counters = factory
	}
}

// WithProcessFactory replaces the host process table source
func WithProcessFactory(factory ProcessFactory) SubscriptionOption {
	return func(c *SubscriptionController) {
		c.processes = factory
	}
}

// WithIdentificationSource replaces the native CPUID source
func WithIdentificationSource(ids procid.Source) SubscriptionOption {
	return func(c *SubscriptionController) {
		c.ids = ids
	}
}

// WithSamplingPeriod sets the sleep between ticks
func WithSamplingPeriod(period time.Duration) SubscriptionOption {
	return func(c *SubscriptionController) {
		if period > 0 {
			c.period = period
		}
	}
}

// WithSampleBuffer sets how many undelivered batches a ChannelSink holds
func WithSampleBuffer(buffer int) SubscriptionOption {
	return func(c *SubscriptionController) {
		if buffer > 0 {
			c.buffer = buffer
		}
	}
}

// WithDeliveryTimeout sets how long a ChannelSink waits for a full
// subscriber before declaring it gone
func WithDeliveryTimeout(timeout time.Duration) SubscriptionOption {
	return func(c *SubscriptionController) {
		if timeout > 0 {
			c.deliveryTimeout = timeout
		}
	}
}

// NewSubscriptionController creates a controller using the host
// counters and native CPUID unless overridden.
func NewSubscriptionController(opts ...SubscriptionOption) *SubscriptionController {
	c := &SubscriptionController{
		counters:  NewHostCounters,
		processes: NewHostProcesses,
		period:    DefaultSamplingPeriod,
		buffer:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ids == nil {
		c.ids = procid.Native()
	}
	if c.deliveryTimeout == 0 {
		c.deliveryTimeout = c.period
	}
	return c
}

// SamplingPeriod returns the sleep between ticks
func (c *SubscriptionController) SamplingPeriod() time.Duration {
	return c.period
}

// NewSink creates a ChannelSink sized by the controller's settings
func (c *SubscriptionController) NewSink() *ChannelSink {
	return NewChannelSink(c.buffer, c.deliveryTimeout)
}

// Capabilities builds a one-off capability snapshot without sampling
func (c *SubscriptionController) Capabilities() (models.StaticCapabilities, error) {
	counters, err := c.openCounters()
	if err != nil {
		return models.StaticCapabilities{}, err
	}
	return BuildCapabilities(counters, c.ids), nil
}

// Features decodes the processor feature flags without opening counters
func (c *SubscriptionController) Features() []models.FeatureFlag {
	return DecodeFeatures(c.ids.FeatureLeaves())
}

// Start opens fresh counters, builds the capability snapshot and starts
// the sampler pushing into sink. The snapshot is returned before any
// batch can be delivered. On error no subscription exists.
func (c *SubscriptionController) Start(sink SampleSink) (models.StaticCapabilities, *SubscriptionHandle, error) {
	counters, err := c.openCounters()
	if err != nil {
		return models.StaticCapabilities{}, nil, err
	}

	caps := BuildCapabilities(counters, c.ids)

	handle := c.newHandle()
	sampler := &Sampler{
		id:       handle.id,
		counters: counters,
		sink:     sink,
		period:   c.period,
		stop:     &handle.stopped,
		wake:     handle.wake,
		now:      time.Now,
	}

	subscriptionLog.Info().
		Str("subscription", handle.id).
		Int("logical_cores", caps.LogicalCoreCount).
		Dur("period", c.period).
		Msg("Subscription started")

	go c.supervise(handle, sampler.Run)

	return caps, handle, nil
}

// Processes lists the host processes once, busiest first. CPU usage is
// each process's lifetime average.
func (c *SubscriptionController) Processes() ([]models.ProcessInfo, error) {
	source, err := c.openProcesses()
	if err != nil {
		return nil, err
	}
	return source.List()
}

// StartProcesses starts a sampler pushing the process list into sink on
// the controller's period. On error no subscription exists.
func (c *SubscriptionController) StartProcesses(sink ProcessSink) (*SubscriptionHandle, error) {
	source, err := c.openProcesses()
	if err != nil {
		return nil, err
	}

	handle := c.newHandle()
	sampler := &ProcessSampler{
		id:     handle.id,
		source: source,
		sink:   sink,
		period: c.period,
		stop:   &handle.stopped,
		wake:   handle.wake,
		now:    time.Now,
	}

	subscriptionLog.Info().
		Str("subscription", handle.id).
		Dur("period", c.period).
		Msg("Process subscription started")

	go c.supervise(handle, sampler.Run)

	return handle, nil
}

func (c *SubscriptionController) newHandle() *SubscriptionHandle {
	return newSubscriptionHandle("sub-" + strconv.FormatUint(c.nextID.Add(1), 10))
}

// supervise runs a sampler loop and closes handle's done channel once
// it has exited
func (c *SubscriptionController) supervise(handle *SubscriptionHandle, run func() error) {
	defer close(handle.done)
	handle.err = run()
	if coded, ok := handle.err.(errors.Error); ok {
		subscriptionLog.ErrorWithCode(coded).Str("subscription", handle.id).Msg("Sampler terminated")
		return
	}
	if handle.err != nil {
		subscriptionLog.Error().Err(handle.err).Str("subscription", handle.id).Msg("Sampler terminated")
		return
	}
	subscriptionLog.Info().Str("subscription", handle.id).Msg("Subscription stopped")
}

// Stop requests cancellation of handle without waiting for the sampler
func (c *SubscriptionController) Stop(handle *SubscriptionHandle) {
	if handle != nil {
		handle.Stop()
	}
}

func (c *SubscriptionController) openProcesses() (ProcessSource, error) {
	source, err := c.processes()
	if err != nil {
		if errors.HasCode(err, errors.ErrCollectProcesses) {
			return nil, err
		}
		return nil, errors.New().Wrap(errors.ErrCollectProcesses, err)
	}
	return source, nil
}

func (c *SubscriptionController) openCounters() (CounterSource, error) {
	counters, err := c.counters()
	if err != nil {
		if errors.HasCode(err, errors.ErrCounterInit) {
			return nil, err
		}
		return nil, errors.New().Wrap(errors.ErrCounterInit, err)
	}
	if len(counters.Cores()) == 0 {
		return nil, errors.New().WithMessage(errors.ErrCounterInit, "no enumerable CPU cores")
	}
	return counters, nil
}

// ChannelSink delivers batches on a buffered channel. A batch that
// cannot be queued within the delivery timeout, or after Close, is a
// delivery failure.
type ChannelSink struct {
	ch        chan models.SampleBatch
	timeout   time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannelSink creates a sink holding at least one undelivered batch
func NewChannelSink(buffer int, timeout time.Duration) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = DefaultSamplingPeriod
	}
	return &ChannelSink{
		ch:      make(chan models.SampleBatch, buffer),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// C returns the batch channel
func (s *ChannelSink) C() <-chan models.SampleBatch {
	return s.ch
}

// Close marks the subscriber as gone. The next delivery fails.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *ChannelSink) Deliver(batch models.SampleBatch) error {
	gone := errors.New().New(errors.ErrSubscriberGone)

	select {
	case <-s.closed:
		return gone
	default:
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.ch <- batch:
		return nil
	case <-s.closed:
		return gone
	case <-timer.C:
		return gone.WithMessage("Subscriber did not drain within " + s.timeout.String())
	}
}

// finish closes the batch channel once its only sender has exited
func (s *ChannelSink) finish(handle *SubscriptionHandle) {
	<-handle.Done()
	close(s.ch)
}

var (
	defaultController     *SubscriptionController
	defaultControllerOnce sync.Once
)

// InitSubscriptionController installs the controller used by
// StartCapabilitySubscription. It must be called before the first
// subscription to take effect.
func InitSubscriptionController(opts ...SubscriptionOption) *SubscriptionController {
	defaultControllerOnce.Do(func() {
		defaultController = NewSubscriptionController(opts...)
	})
	return defaultController
}

// GetSubscriptionController returns the shared controller
func GetSubscriptionController() *SubscriptionController {
	return InitSubscriptionController()
}

// StartCapabilitySubscription starts a subscription on the shared
// controller. The returned channel yields batches in tick order and is
// closed when the sampler exits.
func StartCapabilitySubscription() (models.StaticCapabilities, *SubscriptionHandle, <-chan models.SampleBatch, error) {
	controller := GetSubscriptionController()
	sink := controller.NewSink()

	caps, handle, err := controller.Start(sink)
	if err != nil {
		return models.StaticCapabilities{}, nil, nil, err
	}

	go sink.finish(handle)

	return caps, handle, sink.C(), nil
}

// StopSubscription requests cancellation and returns immediately
func StopSubscription(handle *SubscriptionHandle) {
	if handle != nil {
		handle.Stop()
	}
}
