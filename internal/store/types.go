package store

import "time"

type SellerUpsert struct {
	ExternalID    string
	ShopName      string
	ShopURL       string
	Keyword       string
	Rating        string
	TotalProducts int
	ContactEmail  string
	Metadata      map[string]string
	Now           time.Time
}

type UpsertResult struct {
	SellerID int64
	Created  bool
}

type CampaignInsert struct {
	Name       string
	TemplateID int64
	Keywords   string
	Status     string
	StartDate  *time.Time
	EndDate    *time.Time
	DailyLimit int
	Notes      string
}

type TemplateInsert struct {
	Name      string
	Subject   string
	Body      string
	Type      string
	Variables []string
}

type AttemptInsert struct {
	ID         string
	SellerID   int64
	CampaignID int64
	Message    string
	ProfileID  string
	Now        time.Time
}

type AuditInsert struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      string
	Details    any
	Now        time.Time
}

// Stats is the read-only dashboard aggregation.
type Stats struct {
	TotalSellers      int `json:"totalSellers"`
	NewSellers        int `json:"newSellers"`
	ResearchedSellers int `json:"researchedSellers"`
	ContactedSellers  int `json:"contactedSellers"`
	TotalCampaigns    int `json:"totalCampaigns"`
	ActiveCampaigns   int `json:"activeCampaigns"`
	PendingApprovals  int `json:"pendingApprovals"`
	ApprovedMessages  int `json:"approvedMessages"`
	MessagesDelivered int `json:"messagesDelivered"`
	TrackedProfiles   int `json:"trackedProfiles"`
	EligibleProfiles  int `json:"eligibleProfiles"`
}
