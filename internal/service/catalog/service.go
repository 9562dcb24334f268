// Package catalog реализует администрирование товаров: заведение, редактирование
// и корректировка остатков через складской журнал.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
)

// CreateParams — поля нового товара.
type CreateParams struct {
	SKU        string
	Name       string
	PriceMinor int64
	Stock      int
	Active     bool
}

// UpdateParams — редактируемые поля; nil означает «не менять».
type UpdateParams struct {
	Name       *string
	PriceMinor *int64
	Active     *bool
}

// Service управляет каталогом.
type Service struct {
	tx     domain.TxManager
	ledger *inventory.Ledger
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(tx domain.TxManager, ledger *inventory.Ledger, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{tx: tx, ledger: ledger, logger: logger}
}

// CreateProduct заводит товар. SKU уникален.
func (s *Service) CreateProduct(ctx context.Context, params CreateParams) (domain.Product, error) {
	product := domain.Product{
		SKU:        strings.TrimSpace(params.SKU),
		Name:       strings.TrimSpace(params.Name),
		PriceMinor: params.PriceMinor,
		Stock:      params.Stock,
		Active:     params.Active,
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().Create(ctx, &product)
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product %q: %w", product.SKU, err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"sku":        product.SKU,
		"stock":      product.Stock,
	}).Info("product created")
	return product, nil
}

// UpdateProduct меняет имя, цену или активность под блокировкой строки.
// Цены в существующих позициях заказов не меняются.
func (s *Service) UpdateProduct(ctx context.Context, id int64, params UpdateParams) (domain.Product, error) {
	var product domain.Product
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		locked, err := s.ledger.Lock(ctx, tx.Products(), id)
		if err != nil {
			return err
		}
		current, ok := locked[id]
		if !ok {
			return domain.ProductNotFound(id)
		}

		if params.Name != nil {
			current.Name = strings.TrimSpace(*params.Name)
		}
		if params.PriceMinor != nil {
			if *params.PriceMinor < 0 {
				return fmt.Errorf("%w: %d", domain.ErrPriceInvalid, *params.PriceMinor)
			}
			current.PriceMinor = *params.PriceMinor
		}
		if params.Active != nil {
			current.Active = *params.Active
		}
		if err := tx.Products().Update(ctx, current); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		product, err = tx.Products().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// AdjustStock проводит приход (delta > 0) или списание (delta < 0).
func (s *Service) AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error) {
	var (
		product domain.Product
		pending *metrics.Pending
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ctx, pending = metrics.WithPending(ctx)
		if _, err := s.ledger.Adjust(ctx, tx.Products(), id, delta); err != nil {
			return err
		}
		var err error
		product, err = tx.Products().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	pending.Commit()

	s.logger.WithFields(log.Fields{
		"product_id": id,
		"delta":      delta,
		"stock":      product.Stock,
	}).Info("stock adjusted")
	return product, nil
}

// ListProducts возвращает все товары по возрастанию ID.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		products, err = tx.Products().List(ctx)
		return err
	})
	return products, err
}
