package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type campaignRepository struct {
	tx *sql.Tx
}

func (r campaignRepository) Get(ctx context.Context, id int64) (domain.Campaign, error) {
	var c domain.Campaign
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, source, medium, name, created_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Source, &c.Medium, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Campaign{}, domain.ErrCampaignNotFound
		}
		return domain.Campaign{}, fmt.Errorf("select campaign: %w", err)
	}
	return c, nil
}

// GetOrCreate: ON CONFLICT DO NOTHING не возвращает строку, поэтому при гонке читаем повторно.
func (r campaignRepository) GetOrCreate(ctx context.Context, campaign domain.Campaign) (domain.Campaign, error) {
	c := campaign
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO campaigns (source, medium, name)
		VALUES ($1,$2,$3)
		ON CONFLICT (source, medium, name) DO NOTHING
		RETURNING id, created_at
	`, campaign.Source, campaign.Medium, campaign.Name).Scan(&c.ID, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}

	err = r.tx.QueryRowContext(ctx, `
		SELECT id, source, medium, name, created_at
		FROM campaigns
		WHERE source = $1 AND medium = $2 AND name = $3
	`, campaign.Source, campaign.Medium, campaign.Name).Scan(&c.ID, &c.Source, &c.Medium, &c.Name, &c.CreatedAt)
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("select campaign: %w", err)
	}
	return c, nil
}

type conversionRepository struct {
	tx *sql.Tx
}

func (r conversionRepository) GetOrCreate(ctx context.Context, conversion domain.Conversion) (domain.Conversion, bool, error) {
	saved := conversion
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO conversions (order_id, campaign_id, value_minor)
		VALUES ($1,$2,$3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at
	`, conversion.OrderID, conversion.CampaignID, conversion.ValueMinor).Scan(&saved.ID, &saved.CreatedAt)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Conversion{}, false, fmt.Errorf("insert conversion: %w", err)
	}

	existing, err := r.GetByOrder(ctx, conversion.OrderID)
	if err != nil {
		return domain.Conversion{}, false, err
	}
	return existing, false, nil
}

func (r conversionRepository) GetByOrder(ctx context.Context, orderID int64) (domain.Conversion, error) {
	var (
		c          domain.Conversion
		campaignID sql.NullInt64
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, order_id, campaign_id, value_minor, created_at
		FROM conversions
		WHERE order_id = $1
	`, orderID).Scan(&c.ID, &c.OrderID, &campaignID, &c.ValueMinor, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conversion{}, domain.ErrConversionNotFound
		}
		return domain.Conversion{}, fmt.Errorf("select conversion: %w", err)
	}
	if campaignID.Valid {
		id := campaignID.Int64
		c.CampaignID = &id
	}
	return c, nil
}

var (
	_ domain.CampaignRepository   = campaignRepository{}
	_ domain.ConversionRepository = conversionRepository{}
)
