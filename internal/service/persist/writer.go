package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	defaultQueueSize      = 64
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultWriteTimeout   = 5 * time.Second
)

var (
	persistWriteAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_persist_write_attempts_total",
		Help: "Total number of snapshot write attempts grouped by result.",
	}, []string{"result"})
	persistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_persist_queue_depth",
		Help: "Current number of snapshots waiting to be written.",
	})
	persistWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_persist_write_duration_seconds",
		Help:    "Duration of successful snapshot writes including retries.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})
)

// WriterOptions задаёт параметры writer.
type WriterOptions struct {
	Logger         *log.Entry
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	WriteTimeout   time.Duration
}

// Option настраивает Writer.
type Option func(*WriterOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WriterOptions) {
		opts.Logger = logger
	}
}

// WithQueueSize задаёт ёмкость очереди снимков.
func WithQueueSize(size int) Option {
	return func(opts *WriterOptions) {
		opts.QueueSize = size
	}
}

// WithMaxAttempts задаёт число попыток записи одного снимка.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WriterOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WriterOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithWriteTimeout ограничивает одну попытку записи.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(opts *WriterOptions) {
		opts.WriteTimeout = timeout
	}
}

type task struct {
	payload []byte
	result  chan error
}

// Writer: единственный писатель снимков корзины в KVStore.
// Снимки записываются строго в порядке Enqueue, каждый отдельной записью.
type Writer struct {
	kv             domain.KVStore
	key            string
	logger         *log.Entry
	queue          chan task
	stopped        chan struct{}
	maxAttempts    int
	retryBaseDelay time.Duration
	writeTimeout   time.Duration
}

// NewWriter создаёт writer для фиксированного ключа.
func NewWriter(kv domain.KVStore, key string, options ...Option) *Writer {
	opts := WriterOptions{
		QueueSize:      defaultQueueSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		WriteTimeout:   defaultWriteTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "persist-writer")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Writer{
		kv:             kv,
		key:            key,
		logger:         logger.WithField("key", key),
		queue:          make(chan task, opts.QueueSize),
		stopped:        make(chan struct{}),
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		writeTimeout:   opts.WriteTimeout,
	}
}

// Key возвращает ключ, под которым пишутся снимки.
func (w *Writer) Key() string {
	return w.key
}

// Run обрабатывает очередь до отмены ctx. После выхода новые снимки не принимаются,
// а ожидающие получают ErrWriterStopped.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.stopped)

	for {
		select {
		case <-ctx.Done():
			w.drainStopped()
			return
		case t := <-w.queue:
			persistQueueDepth.Set(float64(len(w.queue)))
			t.result <- w.writeWithRetry(ctx, t.payload)
		}
	}
}

// Enqueue ставит снимок в очередь и возвращает канал с результатом записи.
// Порядок вызовов Enqueue сохраняется при записи.
func (w *Writer) Enqueue(ctx context.Context, payload []byte) (<-chan error, error) {
	t := task{payload: payload, result: make(chan error, 1)}

	select {
	case <-w.stopped:
		return nil, domain.ErrWriterStopped
	default:
	}

	select {
	case w.queue <- t:
		persistQueueDepth.Set(float64(len(w.queue)))
		return t.result, nil
	case <-w.stopped:
		return nil, domain.ErrWriterStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait ожидает результат записи, прерываясь по ctx или остановке writer.
func (w *Writer) Wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		// Результат мог быть отправлен прямо перед остановкой.
		select {
		case err := <-result:
			return err
		default:
			return domain.ErrWriterStopped
		}
	}
}

// Persist выполняет Enqueue и затем Wait.
func (w *Writer) Persist(ctx context.Context, payload []byte) error {
	result, err := w.Enqueue(ctx, payload)
	if err != nil {
		return err
	}
	return w.Wait(ctx, result)
}

// Stopped закрывается после выхода из Run.
func (w *Writer) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *Writer) drainStopped() {
	for {
		select {
		case t := <-w.queue:
			t.result <- domain.ErrWriterStopped
		default:
			persistQueueDepth.Set(0)
			return
		}
	}
}

func (w *Writer) writeWithRetry(ctx context.Context, payload []byte) error {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
		err := w.kv.Set(writeCtx, w.key, payload)
		cancel()
		if err == nil {
			persistWriteAttempts.WithLabelValues("written").Inc()
			persistWriteDuration.Observe(time.Since(start).Seconds())
			return nil
		}
		lastErr = err
		persistWriteAttempts.WithLabelValues("retry_error").Inc()
		w.logger.WithError(err).WithField("attempt", attempt).Debug("snapshot write failed")

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrPersistence, ctx.Err())
		case <-time.After(delay):
		}
	}

	persistWriteAttempts.WithLabelValues("failed").Inc()
	w.logger.WithError(lastErr).WithField("attempts", w.maxAttempts).Warn("snapshot write failed after retries")
	return fmt.Errorf("%w: write failed after %d attempts: %w", domain.ErrPersistence, w.maxAttempts, lastErr)
}

func (w *Writer) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
