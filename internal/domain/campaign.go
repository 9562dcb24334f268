package domain

import "time"

// Значения по умолчанию для UTM-меток.
const (
	DefaultCampaignSource = "tiktok"
	DefaultCampaignMedium = "paid"
)

// Campaign — маркетинговая кампания, на которую ссылаются заказы.
type Campaign struct {
	ID        int64
	Source    string
	Medium    string
	Name      string
	CreatedAt time.Time
}

// AttributionSource возвращает имя кампании, а при его отсутствии источник.
func (c Campaign) AttributionSource() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Source
}

// CampaignFromUTM строит ключ кампании из UTM-параметров.
func CampaignFromUTM(source, medium, name string) Campaign {
	if source == "" {
		source = DefaultCampaignSource
	}
	if medium == "" {
		medium = DefaultCampaignMedium
	}
	if name == "" {
		name = source
	}
	return Campaign{Source: source, Medium: medium, Name: name}
}

// Conversion — не более одной на заказ; значение фиксируется при создании.
type Conversion struct {
	ID         int64
	OrderID    int64
	CampaignID *int64
	ValueMinor int64
	CreatedAt  time.Time
}
