// Package attribution связывает заказы с маркетинговыми кампаниями и
// уведомляет внешнюю систему атрибуции о покупках.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const maxUTMLength = 128

// Linker строит конверсию заказа по кампании из сессии покупателя.
type Linker struct {
	logger *log.Entry
}

// NewLinker создаёт Linker.
func NewLinker(logger *log.Entry) *Linker {
	if logger == nil {
		logger = log.WithField("component", "attribution")
	}
	return &Linker{logger: logger}
}

// Resolve превращает идентификатор кампании из сессии в кампанию.
// Устаревшая ссылка не должна ломать оформление заказа, поэтому возвращается nil.
func (l *Linker) Resolve(ctx context.Context, campaigns domain.CampaignRepository, campaignID *int64) (*domain.Campaign, error) {
	if campaignID == nil {
		return nil, nil
	}
	campaign, err := campaigns.Get(ctx, *campaignID)
	if errors.Is(err, domain.ErrCampaignNotFound) {
		l.logger.WithField("campaign_id", *campaignID).Warn("session campaign not found, order left unattributed")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve campaign: %w", err)
	}
	return &campaign, nil
}

// Link проставляет источник атрибуции и создаёт конверсию (не более одной на заказ).
// Значение конверсии равно итогу заказа на момент вызова.
func (l *Linker) Link(ctx context.Context, tx domain.Tx, order *domain.Order, campaign *domain.Campaign) (domain.Conversion, error) {
	conversion := domain.Conversion{
		OrderID:    order.ID,
		ValueMinor: order.TotalMinor(),
	}
	var source string
	if campaign != nil {
		id := campaign.ID
		conversion.CampaignID = &id
		source = campaign.AttributionSource()
	}

	saved, created, err := tx.Conversions().GetOrCreate(ctx, conversion)
	if err != nil {
		return domain.Conversion{}, fmt.Errorf("create conversion: %w", err)
	}
	if !created {
		l.logger.WithField("order_uid", order.UID).Debug("conversion already exists")
		return saved, nil
	}

	if err := tx.Orders().SetAttribution(ctx, order.ID, source, saved.ValueMinor); err != nil {
		return domain.Conversion{}, fmt.Errorf("set attribution: %w", err)
	}
	value := saved.ValueMinor
	order.AttributionSource = source
	order.ConversionValueMinor = &value
	return saved, nil
}

// CaptureUTM находит или создаёт кампанию по UTM-меткам визита.
func (l *Linker) CaptureUTM(ctx context.Context, campaigns domain.CampaignRepository, source, medium, name string) (domain.Campaign, error) {
	key := domain.CampaignFromUTM(clip(source), clip(medium), clip(name))
	campaign, err := campaigns.GetOrCreate(ctx, key)
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("capture utm campaign: %w", err)
	}
	return campaign, nil
}

func clip(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxUTMLength {
		v = v[:maxUTMLength]
	}
	return v
}
