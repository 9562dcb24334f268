package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// state — снимок всех таблиц in-memory хранилища.
type state struct {
	products        map[int64]domain.Product
	customers       map[int64]domain.Customer
	customerByPhone map[string]int64
	orders          map[int64]domain.Order
	orderByUID      map[string]int64
	items           map[int64]domain.OrderItem
	campaigns       map[int64]domain.Campaign
	conversions     map[int64]domain.Conversion
	outbox          map[string]outboxRecord
	timeline        map[int64][]domain.TimelineEvent

	productSeq    int64
	customerSeq   int64
	orderSeq      int64
	itemSeq       int64
	campaignSeq   int64
	conversionSeq int64
	outboxSeq     int64
}

func newState() *state {
	return &state{
		products:        make(map[int64]domain.Product),
		customers:       make(map[int64]domain.Customer),
		customerByPhone: make(map[string]int64),
		orders:          make(map[int64]domain.Order),
		orderByUID:      make(map[string]int64),
		items:           make(map[int64]domain.OrderItem),
		campaigns:       make(map[int64]domain.Campaign),
		conversions:     make(map[int64]domain.Conversion),
		outbox:          make(map[string]outboxRecord),
		timeline:        make(map[int64][]domain.TimelineEvent),
	}
}

// clone делает копию для транзакции; значения хранятся без указателей, кроме CampaignID.
func (s *state) clone() *state {
	c := *s
	c.products = cloneMap(s.products)
	c.customers = cloneMap(s.customers)
	c.customerByPhone = cloneMap(s.customerByPhone)
	c.orders = cloneMap(s.orders)
	c.orderByUID = cloneMap(s.orderByUID)
	c.items = cloneMap(s.items)
	c.campaigns = cloneMap(s.campaigns)
	c.conversions = cloneMap(s.conversions)
	c.outbox = cloneMap(s.outbox)
	c.timeline = make(map[int64][]domain.TimelineEvent, len(s.timeline))
	for k, v := range s.timeline {
		c.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return &c
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Store — in-memory хранилище с транзакциями на копии состояния.
// Транзакции выполняются строго последовательно, что эквивалентно serializable.
type Store struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	current *state
	now     func() time.Time
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		current: newState(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx выполняет fn на копии состояния и публикует её только при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.current.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = work
	s.mu.Unlock()
	return nil
}

// update меняет текущее состояние вне пользовательской транзакции (outbox-воркер).
func (s *Store) update(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.current)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.current)
}

// Ping всегда успешен; нужен для health-check.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) Products() domain.ProductRepository       { return productRepo{t} }
func (t *memTx) Customers() domain.CustomerRepository     { return customerRepo{t} }
func (t *memTx) Orders() domain.OrderRepository           { return orderRepo{t} }
func (t *memTx) Items() domain.OrderItemRepository        { return itemRepo{t} }
func (t *memTx) Campaigns() domain.CampaignRepository     { return campaignRepo{t} }
func (t *memTx) Conversions() domain.ConversionRepository { return conversionRepo{t} }
func (t *memTx) Outbox() domain.OutboxWriter              { return outboxWriter{t} }
func (t *memTx) Timeline() domain.TimelineWriter          { return timelineWriter{t} }

var _ domain.TxManager = (*Store)(nil)
