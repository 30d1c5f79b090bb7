// Package sqsqueue carries seller discovery jobs from the research producer
// to the ingest worker.
package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"outreach/internal/domain"
)

// Producer publishes discovery jobs onto the FIFO queue. The scraping side
// that discovers sellers runs out of process; the producer lives here so
// the payload and group-id contract sit next to the consumer that reads
// them, and so scraper deployments import one package for the boundary.
type Producer struct {
	SQS      *sqs.Client
	QueueURL string

	// GroupBuckets spreads FIFO message groups so one hot keyword cannot
	// serialize the whole queue. Zero means the default.
	GroupBuckets int
}

// SellerJob is one discovered storefront. Keep it small; SQS has a 256KB
// message size limit, so product listings stay out of the payload.
type SellerJob struct {
	Seller       domain.UpsertSellerRequest `json:"seller"`
	Keyword      string                     `json:"keyword,omitempty"`
	DiscoveredAt string                     `json:"discoveredAt,omitempty"`
}

func (p *Producer) EnqueueSeller(ctx context.Context, job SellerJob) error {
	if err := job.Seller.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	groupID := messageGroupIDBucketed(job.Keyword, job.Seller.ExternalID, p.GroupBuckets)
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               &p.QueueURL,
		MessageBody:            str(string(body)),
		MessageGroupId:         str(groupID),
		MessageDeduplicationId: str(job.Seller.ExternalID),
	})
	return err
}

const defaultGroupBuckets = 64

// messageGroupIDBucketed hashes keyword+seller into a bounded set of FIFO
// group ids. Stable for a given pair, so redelivery lands in the same group.
func messageGroupIDBucketed(keyword, sellerID string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	h.Write([]byte(keyword))
	h.Write([]byte{':'})
	h.Write([]byte(sellerID))
	return fmt.Sprintf("sellers-%d", h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
