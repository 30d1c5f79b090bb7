package domain

import (
	"errors"
	"time"
)

// SellerStatus tracks a discovered storefront through its lifecycle.
type SellerStatus string

const (
	SellerNew        SellerStatus = "new"
	SellerResearched SellerStatus = "researched"
	SellerContacted  SellerStatus = "contacted"
	SellerResponded  SellerStatus = "responded"
	SellerOptedOut   SellerStatus = "opted_out"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// DeliveryStatus is the delivery side of an outreach attempt.
// "sent" is terminal; "failed" can be re-enqueued manually by an operator.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// ApprovalStatus is the human-review side of an outreach attempt.
// Both "approved" and "rejected" are terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

var (
	// ErrAlreadyDecided means an approval decision was already recorded
	// for the attempt; terminal decisions are never overwritten.
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrSellerInCooldown means the seller was contacted within the
	// cooldown window and may not be queued again yet.
	ErrSellerInCooldown = errors.New("seller in cooldown")

	// ErrRunInProgress means the engine is already draining a batch.
	ErrRunInProgress = errors.New("outreach run already in progress")

	ErrNotFound = errors.New("not found")

	ErrMissingFields = errors.New("missing required fields")
)

type Seller struct {
	ID            int64             `json:"id"`
	ExternalID    string            `json:"sellerId"`
	ShopName      string            `json:"shopName"`
	ShopURL       string            `json:"shopUrl"`
	Keyword       string            `json:"keyword,omitempty"`
	Status        SellerStatus      `json:"status"`
	ContactEmail  string            `json:"contactEmail,omitempty"`
	Rating        string            `json:"rating,omitempty"`
	TotalProducts int               `json:"totalProducts,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DiscoveredAt  time.Time         `json:"discoveredAt"`
	LastCheckedAt *time.Time        `json:"lastCheckedAt,omitempty"`
}

type Campaign struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	TemplateID int64          `json:"templateId,omitempty"`
	Keywords   string         `json:"keywords,omitempty"`
	Status     CampaignStatus `json:"status"`
	StartDate  *time.Time     `json:"startDate,omitempty"`
	EndDate    *time.Time     `json:"endDate,omitempty"`
	DailyLimit int            `json:"dailyLimit"`
	TotalSent  int            `json:"totalSent"`
	Notes      string         `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Variables []string  `json:"variables,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attempt is one queued or sent outreach message for a seller+campaign pair.
// Invariant: delivery can only move to "sent" while approval is "approved",
// and a sent attempt is immutable.
type Attempt struct {
	ID          string         `json:"id"`
	SellerID    int64          `json:"sellerId"`
	CampaignID  int64          `json:"campaignId"`
	Message     string         `json:"message"`
	ProfileID   string         `json:"profileId,omitempty"`
	Delivery    DeliveryStatus `json:"delivery"`
	Approval    ApprovalStatus `json:"approval"`
	ApprovedBy  string         `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
	ContactedAt *time.Time     `json:"contactedAt,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`

	// Display fields joined for listings.
	ShopName     string `json:"shopName,omitempty"`
	ShopURL      string `json:"shopUrl,omitempty"`
	CampaignName string `json:"campaignName,omitempty"`
}

// Profile is a browser automation profile as reported by the profile
// manager's local API.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ProfileUsage is the per-profile ledger row. The daily counter resets
// lazily the first time the row is touched on a new calendar day.
type ProfileUsage struct {
	ProfileID     string     `json:"profileId"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`
	SentToday     int        `json:"messagesSentToday"`
	SentTotal     int        `json:"totalMessagesSent"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
	LastReset     *time.Time `json:"lastReset,omitempty"`
}

type AuditEntry struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type ResearchJob struct {
	ID            int64      `json:"id"`
	Keyword       string     `json:"keyword"`
	Status        string     `json:"status"`
	ProductsFound int        `json:"productsFound"`
	SellersFound  int        `json:"sellersFound"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// UpsertSellerRequest is what the discovery producer delivers. Duplicate
// discovery of the same external seller id is a no-op upsert, not an error.
type UpsertSellerRequest struct {
	ExternalID    string            `json:"sellerId"`
	ShopName      string            `json:"shopName"`
	ShopURL       string            `json:"shopUrl"`
	Keyword       string            `json:"keyword,omitempty"`
	Rating        string            `json:"rating,omitempty"`
	TotalProducts int               `json:"totalProducts,omitempty"`
	ContactEmail  string            `json:"contactEmail,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (r UpsertSellerRequest) Validate() error {
	if r.ExternalID == "" || r.ShopURL == "" {
		return ErrMissingFields
	}
	return nil
}
