package memory

import (
	"context"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type campaignRepo struct{ tx *memTx }

func (r campaignRepo) Get(_ context.Context, id int64) (domain.Campaign, error) {
	c, ok := r.tx.st.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return c, nil
}

func (r campaignRepo) GetOrCreate(_ context.Context, campaign domain.Campaign) (domain.Campaign, error) {
	for _, c := range r.tx.st.campaigns {
		if c.Source == campaign.Source && c.Medium == campaign.Medium && c.Name == campaign.Name {
			return c, nil
		}
	}
	r.tx.st.campaignSeq++
	campaign.ID = r.tx.st.campaignSeq
	campaign.CreatedAt = r.tx.now()
	r.tx.st.campaigns[campaign.ID] = campaign
	return campaign, nil
}

type conversionRepo struct{ tx *memTx }

func (r conversionRepo) GetOrCreate(_ context.Context, conversion domain.Conversion) (domain.Conversion, bool, error) {
	if existing, ok := r.tx.st.conversions[conversion.OrderID]; ok {
		return existing, false, nil
	}
	r.tx.st.conversionSeq++
	conversion.ID = r.tx.st.conversionSeq
	conversion.CreatedAt = r.tx.now()
	if conversion.CampaignID != nil {
		id := *conversion.CampaignID
		conversion.CampaignID = &id
	}
	r.tx.st.conversions[conversion.OrderID] = conversion
	return conversion, true, nil
}

func (r conversionRepo) GetByOrder(_ context.Context, orderID int64) (domain.Conversion, error) {
	c, ok := r.tx.st.conversions[orderID]
	if !ok {
		return domain.Conversion{}, domain.ErrConversionNotFound
	}
	return c, nil
}

var (
	_ domain.CampaignRepository   = campaignRepo{}
	_ domain.ConversionRepository = conversionRepo{}
)
