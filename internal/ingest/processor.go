// Package ingest consumes seller discovery jobs and folds them into the
// seller table. Re-discovery of a known seller refreshes its listing data
// without touching its outreach state.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"outreach/internal/audit"
	"outreach/internal/observability"
	sqsqueue "outreach/internal/queue/sqs"
	"outreach/internal/store"
)

type Store interface {
	UpsertSeller(ctx context.Context, in store.SellerUpsert) (store.UpsertResult, error)
	BumpResearchCounters(ctx context.Context, keyword string, sellers int, now time.Time) error
}

type Processor struct {
	Store Store
	Audit *audit.Recorder
	Now   func() time.Time
}

func New(s Store, rec *audit.Recorder) *Processor {
	return &Processor{Store: s, Audit: rec, Now: time.Now}
}

// Process handles one discovery job. Returning an error leaves the message
// on the queue for redrive; validation failures are terminal and succeed so
// the message is deleted instead of looping.
func (p *Processor) Process(ctx context.Context, job sqsqueue.SellerJob) error {
	if err := job.Seller.Validate(); err != nil {
		slog.Warn("dropping invalid discovery job",
			"seller_id", job.Seller.ExternalID, "err", err)
		return nil
	}

	res, err := p.Store.UpsertSeller(ctx, store.SellerUpsert{
		ExternalID:    job.Seller.ExternalID,
		ShopName:      job.Seller.ShopName,
		ShopURL:       job.Seller.ShopURL,
		Keyword:       job.Keyword,
		Rating:        job.Seller.Rating,
		TotalProducts: job.Seller.TotalProducts,
		ContactEmail:  job.Seller.ContactEmail,
		Metadata:      job.Seller.Metadata,
		Now:           p.Now(),
	})
	if err != nil {
		return err
	}

	if res.Created {
		observability.SellerUpserts.WithLabelValues("created").Inc()
		p.Audit.Record(ctx, "seller_discovered", "seller", job.Seller.ExternalID, "system", map[string]any{
			"shop_name": job.Seller.ShopName,
			"keyword":   job.Keyword,
		})
		if job.Keyword != "" {
			if err := p.Store.BumpResearchCounters(ctx, job.Keyword, 1, p.Now()); err != nil {
				slog.Error("research counter update failed", "keyword", job.Keyword, "err", err)
			}
		}
	} else {
		observability.SellerUpserts.WithLabelValues("updated").Inc()
	}
	return nil
}
