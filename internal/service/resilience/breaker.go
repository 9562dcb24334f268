package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker разомкнут.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState — состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures ошибок подряд и пропускает
// пробный вызов через resetTimeout.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker создаёт breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn через breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.before(operation); err != nil {
		return err
	}
	err := fn()
	cb.after(operation, err)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
		return ErrCircuitOpen
	}
	cb.state = CircuitHalfOpen
	cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	return nil
}

func (cb *CircuitBreaker) after(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.logger.WithField("operation", operation).Info("circuit breaker closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != CircuitOpen {
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		cb.state = CircuitOpen
	}
}

// BreakerNotifier защищает ConversionNotifier breaker'ом: пока внешняя
// система недоступна, уведомления отбрасываются без сетевого вызова.
type BreakerNotifier struct {
	next    domain.ConversionNotifier
	breaker *CircuitBreaker
}

// NewBreakerNotifier оборачивает notifier.
func NewBreakerNotifier(next domain.ConversionNotifier, breaker *CircuitBreaker) *BreakerNotifier {
	return &BreakerNotifier{next: next, breaker: breaker}
}

// NotifyPurchase реализует domain.ConversionNotifier.
func (n *BreakerNotifier) NotifyPurchase(ctx context.Context, event domain.PurchaseEvent) error {
	return n.breaker.Execute("notify_purchase", func() error {
		return n.next.NotifyPurchase(ctx, event)
	})
}

var _ domain.ConversionNotifier = (*BreakerNotifier)(nil)
