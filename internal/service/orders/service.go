// Package orders реализует административные операции над заказом:
// отмену с возвратом на склад, смену статуса и изменение позиций.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
)

// Названия операций для метрик и трассировки.
const (
	OpCancel      = "cancel_order"
	OpMarkPaid    = "mark_paid"
	OpMarkShipped = "mark_shipped"
	OpShipItem    = "ship_item"
	OpAddItem     = "add_item"
	OpRemoveItem  = "remove_item"
	OpMutateItem  = "mutate_item"
)

// Details — заказ вместе с конверсией и историей.
type Details struct {
	Order      domain.Order
	Conversion *domain.Conversion
	Timeline   []domain.TimelineEvent
}

// Service управляет заказами после оформления.
type Service struct {
	tx       domain.TxManager
	items    *orderitem.Lifecycle
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService создаёт сервис заказов. timeline нужен только для Get.
func NewService(tx domain.TxManager, items *orderitem.Lifecycle, timeline domain.TimelineRepository, logger *log.Entry, m *metrics.OrderMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	return &Service{
		tx:       tx,
		items:    items,
		timeline: timeline,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("github.com/vladislavdragonenkov/eshop/internal/service/orders"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// mutation описывает результат изменения: событие outbox и запись истории.
type mutation struct {
	event    string
	metadata map[string]string
	timeline string
	reason   string
}

// run блокирует заказ, загружает позиции и выполняет fn в одной транзакции.
// Если fn вернула mutation, событие и история пишутся в ту же транзакцию.
func (s *Service) run(ctx context.Context, op, uid string, fn func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error)) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders."+op, trace.WithAttributes(attribute.String("order.uid", uid)))
	defer span.End()

	done := s.metrics.TxStarted(op)
	defer done()

	var (
		result  domain.Order
		pending *metrics.Pending
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ctx, pending = metrics.WithPending(ctx)
		order, err := loadLocked(ctx, tx, uid)
		if err != nil {
			return err
		}

		m, err := fn(ctx, tx, &order)
		if err != nil {
			return err
		}
		if m != nil {
			if err := s.record(ctx, tx, order, *m); err != nil {
				return err
			}
		}
		result = order
		return nil
	})
	if err != nil {
		reason := metrics.ReasonFor(err)
		s.metrics.RecordRejection(op, reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.logger.WithError(err).WithFields(log.Fields{
			"order_uid": uid,
			"operation": op,
			"reason":    reason,
		}).Warn("order operation rejected")
		return domain.Order{}, err
	}
	pending.Commit()
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func loadLocked(ctx context.Context, tx domain.Tx, uid string) (domain.Order, error) {
	order, err := tx.Orders().LockByUID(ctx, uid)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items, err = tx.Items().ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("list order items: %w", err)
	}
	return order, nil
}

func (s *Service) record(ctx context.Context, tx domain.Tx, order domain.Order, m mutation) error {
	now := s.now()
	msg, err := domain.NewOrderEvent(m.event, order, m.metadata, now).OutboxMessage()
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", m.event, err)
	}
	metrics.Defer(ctx, s.metrics.RecordOutboxEvent)
	if err := tx.Timeline().Append(ctx, domain.NewTimelineEvent(&order, m.timeline, m.reason, now)); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, tx domain.Tx, order *domain.Order, to domain.OrderStatus) error {
	if !order.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, to)
	}
	if err := tx.Orders().UpdateStatus(ctx, order.ID, to); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	order.Status = to
	return nil
}

// Cancel отменяет заказ и возвращает все позиции на склад.
// Повторная отмена ничего не делает. Заказ, из которого уже что-то отгружено,
// отменить нельзя.
func (s *Service) Cancel(ctx context.Context, uid, reason string) (domain.Order, error) {
	var cancelled bool
	order, err := s.run(ctx, OpCancel, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		if order.Status == domain.OrderStatusCancelled {
			return nil, nil
		}
		if !order.Status.CanTransition(domain.OrderStatusCancelled) {
			return nil, fmt.Errorf("%w: cannot cancel %s order", domain.ErrInvalidTransition, order.Status)
		}
		if order.HasShipments() {
			return nil, fmt.Errorf("%w: order has shipped items", domain.ErrInvalidTransition)
		}
		if err := s.items.RestockAll(ctx, tx, order); err != nil {
			return nil, err
		}
		if err := s.transition(ctx, tx, order, domain.OrderStatusCancelled); err != nil {
			return nil, err
		}
		cancelled = true
		return &mutation{
			event:    domain.EventOrderCancelled,
			timeline: domain.TimelineOrderCancelled,
			reason:   strings.TrimSpace(reason),
		}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if cancelled {
		s.metrics.RecordOrderCancelled()
		s.metrics.RecordTransition(string(domain.OrderStatusCancelled))
		s.logger.WithFields(log.Fields{"order_uid": uid, "reason": reason}).Info("order cancelled")
	}
	return order, nil
}

// MarkPaid переводит заказ new -> paid и сохраняет ссылку на платёж.
// Повтор с той же ссылкой для оплаченного заказа ничего не меняет.
func (s *Service) MarkPaid(ctx context.Context, uid, paymentReference string) (domain.Order, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	var changed bool
	order, err := s.run(ctx, OpMarkPaid, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		if order.Status == domain.OrderStatusPaid && order.PaymentReference == paymentReference {
			return nil, nil
		}
		if err := s.transition(ctx, tx, order, domain.OrderStatusPaid); err != nil {
			return nil, err
		}
		if paymentReference != "" {
			if err := tx.Orders().SetPaymentReference(ctx, order.ID, paymentReference); err != nil {
				return nil, fmt.Errorf("set payment reference: %w", err)
			}
			order.PaymentReference = paymentReference
		}
		changed = true
		return &mutation{
			event:    domain.EventOrderPaid,
			metadata: map[string]string{"payment_reference": paymentReference},
			timeline: domain.TimelineOrderPaid,
		}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		s.metrics.RecordTransition(string(domain.OrderStatusPaid))
	}
	return order, nil
}

// MarkShipped переводит заказ paid -> shipped, отгружая все позиции целиком.
func (s *Service) MarkShipped(ctx context.Context, uid string) (domain.Order, error) {
	order, err := s.run(ctx, OpMarkShipped, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		if !order.Status.CanTransition(domain.OrderStatusShipped) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusShipped)
		}
		for _, item := range order.Items {
			rest := item.Quantity - item.ShippedQuantity
			if rest == 0 {
				continue
			}
			if _, err := s.items.Ship(ctx, tx, order, item.ID, rest); err != nil {
				return nil, err
			}
		}
		if err := s.transition(ctx, tx, order, domain.OrderStatusShipped); err != nil {
			return nil, err
		}
		return &mutation{event: domain.EventOrderShipped, timeline: domain.TimelineOrderShipped}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.metrics.RecordTransition(string(domain.OrderStatusShipped))
	return order, nil
}

// ShipItem отмечает частичную отгрузку позиции.
func (s *Service) ShipItem(ctx context.Context, uid string, itemID int64, qty int) (domain.Order, error) {
	return s.run(ctx, OpShipItem, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		if _, err := s.items.Ship(ctx, tx, order, itemID, qty); err != nil {
			return nil, err
		}
		return &mutation{
			event:    domain.EventOrderItemChanged,
			metadata: domain.ItemMetadata("ship", itemID),
			timeline: domain.TimelineItemShipped,
			reason:   fmt.Sprintf("item %d shipped %d", itemID, qty),
		}, nil
	})
}

// AddItem добавляет позицию в существующий заказ.
func (s *Service) AddItem(ctx context.Context, uid string, params orderitem.CreateParams) (domain.Order, error) {
	return s.run(ctx, OpAddItem, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		item, err := s.items.Create(ctx, tx, order, params)
		if err != nil {
			return nil, err
		}
		return &mutation{
			event:    domain.EventOrderItemChanged,
			metadata: domain.ItemMetadata("add", item.ID),
			timeline: domain.TimelineItemAdded,
			reason:   fmt.Sprintf("item %d: product %d x%d", item.ID, item.ProductID, item.Quantity),
		}, nil
	})
}

// RemoveItem удаляет позицию и возвращает товар на склад.
func (s *Service) RemoveItem(ctx context.Context, uid string, itemID int64) (domain.Order, error) {
	return s.run(ctx, OpRemoveItem, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		item, err := s.items.Delete(ctx, tx, order, itemID)
		if err != nil {
			return nil, err
		}
		return &mutation{
			event:    domain.EventOrderItemChanged,
			metadata: domain.ItemMetadata("remove", item.ID),
			timeline: domain.TimelineItemRemoved,
			reason:   fmt.Sprintf("item %d: product %d x%d", item.ID, item.ProductID, item.Quantity),
		}, nil
	})
}

// MutateItem меняет количество и/или товар позиции.
func (s *Service) MutateItem(ctx context.Context, uid string, itemID int64, params orderitem.UpdateParams) (domain.Order, error) {
	if params.Quantity == nil && params.ProductID == nil {
		return domain.Order{}, fmt.Errorf("%w: nothing to change", domain.ErrInvalidQuantity)
	}
	return s.run(ctx, OpMutateItem, uid, func(ctx context.Context, tx domain.Tx, order *domain.Order) (*mutation, error) {
		item, err := s.items.Update(ctx, tx, order, itemID, params)
		if err != nil {
			return nil, err
		}
		return &mutation{
			event:    domain.EventOrderItemChanged,
			metadata: domain.ItemMetadata("update", item.ID),
			timeline: domain.TimelineItemChanged,
			reason:   fmt.Sprintf("item %d: product %d x%d", item.ID, item.ProductID, item.Quantity),
		}, nil
	})
}

// Get возвращает заказ с позициями, конверсией и историей.
func (s *Service) Get(ctx context.Context, uid string) (Details, error) {
	var details Details
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetByUID(ctx, uid)
		if err != nil {
			return err
		}
		if order.Items, err = tx.Items().ListByOrder(ctx, order.ID); err != nil {
			return fmt.Errorf("list order items: %w", err)
		}
		details.Order = order

		conversion, err := tx.Conversions().GetByOrder(ctx, order.ID)
		switch {
		case err == nil:
			details.Conversion = &conversion
		case !errors.Is(err, domain.ErrConversionNotFound):
			return fmt.Errorf("get conversion: %w", err)
		}
		return nil
	})
	if err != nil {
		return Details{}, err
	}

	if s.timeline != nil {
		events, err := s.timeline.List(ctx, details.Order.ID)
		if err != nil {
			return Details{}, fmt.Errorf("list timeline: %w", err)
		}
		details.Timeline = events
	}
	return details, nil
}
