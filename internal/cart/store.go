package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/metrics"
)

// Persister принимает снимки корзины и пишет их по одному в порядке постановки.
// Реализуется persist.Writer.
type Persister interface {
	Key() string
	Enqueue(ctx context.Context, payload []byte) (<-chan error, error)
	Wait(ctx context.Context, result <-chan error) error
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики корзины.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени для Change.At.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store владеет состоянием корзины.
//
// Мутация применяется к памяти под мьютексом, и снимок под тем же мьютексом ставится
// в очередь единственного writer. Поэтому порядок записей совпадает с порядком мутаций
// и последний записанный снимок равен текущему состоянию.
type Store struct {
	kv      domain.KVStore
	writer  Persister
	logger  *log.Entry
	metrics *metrics.CartMetrics
	now     func() time.Time

	mu    sync.Mutex
	items []domain.CartItem

	loadOnce sync.Once
	loadErr  error
	loaded   chan struct{}

	subsMu sync.Mutex
	subs   map[uuid.UUID]chan domain.Change
}

// NewStore создаёт пустую незагруженную корзину. Снимок читается из kv по ключу writer.Key().
func NewStore(kv domain.KVStore, writer Persister, options ...Option) *Store {
	s := &Store{
		kv:     kv,
		writer: writer,
		logger: log.WithField("component", "cart-store"),
		now:    time.Now,
		items:  []domain.CartItem{},
		loaded: make(chan struct{}),
		subs:   make(map[uuid.UUID]chan domain.Change),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Load один раз читает сохранённый снимок. Отсутствующий или повреждённый снимок
// даёт пустую корзину; ошибка чтения возвращается как ErrPersistence, корзина
// при этом тоже считается загруженной (пустой).
func (s *Store) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.loadErr = s.load(ctx)
		close(s.loaded)
	})
	return s.loadErr
}

// LoadAsync запускает Load в отдельной горутине.
func (s *Store) LoadAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Load(ctx)
		close(done)
	}()
	return done
}

// Ready закрывается после завершения загрузки.
func (s *Store) Ready() <-chan struct{} {
	return s.loaded
}

func (s *Store) load(ctx context.Context) error {
	key := s.writer.Key()
	logger := s.logger.WithField("key", key)

	items := []domain.CartItem{}
	result := "restored"
	var loadErr error

	data, found, err := s.kv.Get(ctx, key)
	switch {
	case err != nil:
		result = "failed"
		loadErr = fmt.Errorf("%w: load %s: %w", domain.ErrPersistence, key, err)
		logger.WithError(err).Warn("failed to read stored cart, starting empty")
	case !found:
		result = "empty"
	default:
		decoded, decodeErr := Decode(data)
		if decodeErr != nil {
			result = "malformed"
			logger.WithError(decodeErr).Warn("stored cart is malformed, starting empty")
		} else {
			items = decoded
		}
	}

	s.mu.Lock()
	s.items = items
	s.observeSize()
	s.publish(domain.Change{Op: domain.ChangeOpLoad, Items: domain.CloneItems(items), At: s.now()})
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordLoad(result)
	}
	logger.WithFields(log.Fields{"result": result, "items": len(items)}).Info("cart loaded")
	return loadErr
}

// Items возвращает копию текущей последовательности. До загрузки она пуста.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

// Summary возвращает количество единиц и сумму корзины.
func (s *Store) Summary() domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Summarize(s.items)
}

// Add кладёт товар в начало корзины с количеством 1. Если позиция с таким id уже
// есть, ничего не меняется и ничего не записывается.
func (s *Store) Add(ctx context.Context, product domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, domain.ChangeOpAdd, product.ID, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		for _, item := range items {
			if item.ID == product.ID {
				return items, false
			}
		}
		next := make([]domain.CartItem, 0, len(items)+1)
		next = append(next, domain.NewCartItem(product))
		return append(next, items...), true
	})
}

// Increment увеличивает количество позиции на 1. Неизвестный id не ошибка:
// состояние не меняется, но снимок всё равно записывается.
func (s *Store) Increment(ctx context.Context, id string) error {
	return s.mutate(ctx, domain.ChangeOpIncrement, id, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		next := domain.CloneItems(items)
		for i := range next {
			if next[i].ID == id {
				next[i].Quantity++
			}
		}
		return next, true
	})
}

// Decrement уменьшает количество позиции на 1, но не ниже 1.
func (s *Store) Decrement(ctx context.Context, id string) error {
	return s.mutate(ctx, domain.ChangeOpDecrement, id, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		next := domain.CloneItems(items)
		for i := range next {
			if next[i].ID == id && next[i].Quantity > 1 {
				next[i].Quantity--
			}
		}
		return next, true
	})
}

// RemoveItem удаляет позицию целиком.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	return s.mutate(ctx, domain.ChangeOpRemove, id, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		next := make([]domain.CartItem, 0, len(items))
		for _, item := range items {
			if item.ID != id {
				next = append(next, item)
			}
		}
		return next, true
	})
}

// mutate применяет apply к состоянию и ждёт записи снимка. apply возвращает false,
// если запись не нужна. Ошибка записи не откатывает состояние в памяти.
func (s *Store) mutate(ctx context.Context, op domain.ChangeOp, itemID string, apply func([]domain.CartItem) ([]domain.CartItem, bool)) error {
	select {
	case <-s.loaded:
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	logger := s.logger.WithFields(log.Fields{"op": op, "item_id": itemID})

	s.mu.Lock()
	next, persist := apply(s.items)
	if !persist {
		s.mu.Unlock()
		s.recordMutation(op, "noop", start)
		logger.Debug("cart mutation skipped")
		return nil
	}

	payload, err := Encode(next)
	if err != nil {
		s.mu.Unlock()
		s.recordMutation(op, "persist_failed", start)
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.items = next
	s.observeSize()
	s.publish(domain.Change{Op: op, ItemID: itemID, Items: domain.CloneItems(next), At: s.now()})
	result, err := s.writer.Enqueue(ctx, payload)
	s.mu.Unlock()

	if err == nil {
		err = s.writer.Wait(ctx, result)
	}
	if err != nil {
		s.recordMutation(op, "persist_failed", start)
		logger.WithError(err).Warn("cart snapshot was not persisted")
		if !domain.IsPersistence(err) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return err
	}

	s.recordMutation(op, "applied", start)
	return nil
}

func (s *Store) recordMutation(op domain.ChangeOp, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordMutation(string(op), outcome, time.Since(start))
	}
}

// observeSize вызывается под s.mu.
func (s *Store) observeSize() {
	if s.metrics == nil {
		return
	}
	summary := domain.Summarize(s.items)
	s.metrics.SetCartSize(len(s.items), summary.Count)
}

// Subscribe возвращает канал изменений корзины и функцию отписки.
// Если подписчик не успевает читать, в канале остаются самые свежие изменения.
func (s *Store) Subscribe(buffer int) (<-chan domain.Change, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	id := uuid.New()
	ch := make(chan domain.Change, buffer)

	s.subsMu.Lock()
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish вызывается под s.mu, поэтому изменения приходят подписчикам в порядке мутаций.
func (s *Store) publish(change domain.Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- change:
			continue
		default:
		}

		// Вытесняем самое старое изменение.
		select {
		case <-ch:
			if s.metrics != nil {
				s.metrics.RecordDroppedNotification()
			}
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}
