package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
)

// CampaignCookie хранит идентификатор кампании визита.
const CampaignCookie = "eshop_campaign"

const campaignCookieTTL = 30 * 24 * time.Hour

type campaignKey struct{}

// CaptureUTM фиксирует кампанию по utm_* меткам запроса и кладёт её id в cookie.
// Ошибка сохранения кампании не прерывает запрос.
func CaptureUTM(tx domain.TxManager, linker *attribution.Linker, logger *log.Entry) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.WithField("component", "utm")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if !q.Has("utm_source") && !q.Has("utm_medium") && !q.Has("utm_campaign") {
				next.ServeHTTP(w, r)
				return
			}

			var campaign domain.Campaign
			err := tx.WithinTx(r.Context(), func(ctx context.Context, tx domain.Tx) error {
				var err error
				campaign, err = linker.CaptureUTM(ctx, tx.Campaigns(), q.Get("utm_source"), q.Get("utm_medium"), q.Get("utm_campaign"))
				return err
			})
			if err != nil {
				logger.WithError(err).Warn("utm capture failed")
				next.ServeHTTP(w, r)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     CampaignCookie,
				Value:    strconv.FormatInt(campaign.ID, 10),
				Path:     "/",
				MaxAge:   int(campaignCookieTTL / time.Second),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			logger.WithFields(log.Fields{"campaign_id": campaign.ID, "utm_source": campaign.Source}).Debug("utm captured")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), campaignKey{}, campaign.ID)))
		})
	}
}

// sessionCampaign возвращает кампанию текущего запроса или из cookie.
func sessionCampaign(r *http.Request) *int64 {
	if id, ok := r.Context().Value(campaignKey{}).(int64); ok {
		return &id
	}
	c, err := r.Cookie(CampaignCookie)
	if err != nil {
		return nil
	}
	id, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
