package odp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/optimizely-experiments/decision-core/internal/metrics"
	"github.com/optimizely-experiments/decision-core/internal/notification"
)

// Defaults for the event manager's batching behavior (spec §4.9).
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 1 * time.Second
	DefaultQueueCapacity = 1000
	DefaultMaxRetries    = 3
)

type signalKind int

const (
	signalFlush signalKind = iota
	signalUpdateConfig
	signalShutdown
)

// queueMessage is either an Event to batch or a control Signal, the
// two message kinds the single consumer goroutine drains (spec §4.9).
type queueMessage struct {
	event    Event
	signal   signalKind
	isSignal bool
}

type eventSender interface {
	SendEvents(ctx context.Context, apiKey, apiHost string, events []Event) (shouldRetry bool, err error)
}

// EventManagerOption configures an EventManager at construction.
type EventManagerOption func(*EventManager)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) EventManagerOption {
	return func(m *EventManager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) EventManagerOption {
	return func(m *EventManager) {
		if d > 0 {
			m.flushInterval = d
		}
	}
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) EventManagerOption {
	return func(m *EventManager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithQueueCapacity overrides DefaultQueueCapacity. Must be called
// before Start.
func WithQueueCapacity(n int) EventManagerOption {
	return func(m *EventManager) {
		if n > 0 {
			m.queue = make(chan queueMessage, n)
		}
	}
}

// EventManager runs the single-consumer ODP event queue described in
// spec §4.9 and §5: producers enqueue non-blocking, one goroutine owns
// batching, flush, and retry.
type EventManager struct {
	config *Config
	client eventSender
	hub    *notification.Hub
	metric *metrics.Registry
	logger *zap.Logger

	batchSize     int
	flushInterval time.Duration
	maxRetries    int

	queue   chan queueMessage
	wg      sync.WaitGroup
	breaker *gobreaker.CircuitBreaker
}

// NewEventManager constructs an EventManager. Nil hub/metric/logger
// arguments install no-op defaults.
func NewEventManager(config *Config, client eventSender, hub *notification.Hub, metric *metrics.Registry, logger *zap.Logger, opts ...EventManagerOption) *EventManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metric == nil {
		metric = metrics.NewNoop()
	}
	if hub == nil {
		hub = notification.NewHub(nil)
	}
	m := &EventManager{
		config:        config,
		client:        client,
		hub:           hub,
		metric:        metric,
		logger:        logger,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		maxRetries:    DefaultMaxRetries,
		queue:         make(chan queueMessage, DefaultQueueCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "odp-event-send",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return m
}

// EnqueueEvent offers e to the queue without blocking. A full queue
// logs a warning and drops the event, per spec §4.9/§5.
func (m *EventManager) EnqueueEvent(e Event) {
	select {
	case m.queue <- queueMessage{event: e}:
		m.metric.OdpQueueDepth.Set(float64(len(m.queue)))
	default:
		m.logger.Warn("odp event queue full, dropping event")
	}
}

// Flush requests an out-of-band flush of the current batch.
func (m *EventManager) Flush() {
	m.postSignal(signalFlush)
}

// NotifyConfigUpdate tells the consumer the ODP config (and therefore
// possibly its integration state) changed, forcing a flush.
func (m *EventManager) NotifyConfigUpdate() {
	m.postSignal(signalUpdateConfig)
}

func (m *EventManager) postSignal(s signalKind) {
	select {
	case m.queue <- queueMessage{isSignal: true, signal: s}:
	default:
		m.logger.Warn("odp event queue full, dropping signal")
	}
}

// Start launches the single consumer goroutine. ctx bounds each
// outgoing HTTP call the consumer makes, not the consumer's lifetime.
func (m *EventManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop posts SHUTDOWN (blocking if the queue is momentarily full,
// since shutdown must not be silently dropped) and waits for the
// consumer to flush its batch and exit.
func (m *EventManager) Stop() {
	m.queue <- queueMessage{isSignal: true, signal: signalShutdown}
	m.wg.Wait()
}

func (m *EventManager) run(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]Event, 0, m.batchSize)
	retries := 0
	var retryBackoff *backoff.ExponentialBackOff
	deadline := time.Now().Add(m.flushInterval)

	nextDeadline := func() time.Time {
		if retries > 0 && retryBackoff != nil {
			return time.Now().Add(retryBackoff.NextBackOff())
		}
		return time.Now().Add(m.flushInterval)
	}

	doFlush := func() {
		var sent bool
		batch, retries, sent = m.flush(ctx, batch, retries)
		if sent || retries == 0 {
			retryBackoff = nil
		} else if retryBackoff == nil {
			retryBackoff = backoff.NewExponentialBackOff()
			retryBackoff.InitialInterval = m.flushInterval
			retryBackoff.MaxInterval = 10 * m.flushInterval
		}
		deadline = nextDeadline()
	}

	for {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			if len(batch) > 0 {
				doFlush()
			} else {
				deadline = time.Now().Add(m.flushInterval)
			}

		case msg := <-m.queue:
			timer.Stop()
			m.metric.OdpQueueDepth.Set(float64(len(m.queue)))

			if !msg.isSignal {
				batch = append(batch, msg.event)
				if len(batch) >= m.batchSize {
					doFlush()
				}
				continue
			}

			switch msg.signal {
			case signalFlush, signalUpdateConfig:
				doFlush()
			case signalShutdown:
				batch, _, _ = m.flush(ctx, batch, retries)
				return
			}
		}
	}
}

// flush sends the current batch (if any) through the circuit breaker
// and returns the batch/retry state the consumer should continue
// with, plus whether the send actually succeeded. An empty slice
// comes back on success, permanent failure, or retry exhaustion; the
// same batch with an incremented retry count comes back when a
// retryable failure leaves it in place for the next flush (spec
// §4.9). An open breaker is treated the same as a retryable failure
// without attempting the network call.
func (m *EventManager) flush(ctx context.Context, batch []Event, retries int) (remaining []Event, nextRetries int, sent bool) {
	if len(batch) == 0 {
		return batch, 0, false
	}

	if m.config.OdpState() != StateIntegrated {
		m.logger.Debug("odp not integrated, discarding batch", zap.Int("size", len(batch)))
		m.metric.OdpFlushOutcomes.WithLabelValues("discarded").Inc()
		return batch[:0], 0, false
	}

	_, err := m.breaker.Execute(func() (interface{}, error) {
		shouldRetry, sendErr := m.client.SendEvents(ctx, m.config.APIKey(), m.config.APIHost(), batch)
		if sendErr == nil {
			return nil, nil
		}
		if shouldRetry {
			return nil, sendErr
		}
		return nil, backoff.Permanent(sendErr)
	})

	if err == nil {
		m.metric.OdpFlushOutcomes.WithLabelValues("success").Inc()
		notified := make([]Event, len(batch))
		copy(notified, batch)
		m.hub.Send(notification.TypeOdpEvent, notified)
		return batch[:0], 0, true
	}

	var permErr *backoff.PermanentError
	if errors.As(err, &permErr) {
		m.logger.Error("odp event flush failed permanently", zap.Error(permErr.Err))
		m.metric.OdpFlushOutcomes.WithLabelValues("failed").Inc()
		return batch[:0], 0, false
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		m.logger.Debug("odp event circuit breaker open, deferring flush")
	} else {
		m.logger.Debug("odp event flush failed, will retry", zap.Error(err))
	}

	retries++
	if retries > m.maxRetries {
		m.logger.Error("odp event flush exceeded max retries, dropping batch", zap.Int("retries", retries))
		m.metric.OdpFlushOutcomes.WithLabelValues("dropped").Inc()
		return batch[:0], 0, false
	}
	m.metric.OdpFlushOutcomes.WithLabelValues("retry").Inc()
	return batch, retries, false
}
