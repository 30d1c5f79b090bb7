package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"outreach/internal/approval"
	"outreach/internal/audit"
	"outreach/internal/domain"
	"outreach/internal/engine"
	"outreach/internal/providers/adspower"
	"outreach/internal/store"
	"outreach/internal/store/pg"
	"outreach/internal/util"
)

type API struct {
	Store    *pg.Store
	Queue    *approval.Queue
	Engine   *engine.Engine
	AdsPower *adspower.Client
	Audit    *audit.Recorder
	DailyCap int

	// SellerCooldown bounds the candidate listing: sellers contacted
	// inside this window are not offered for outreach again.
	SellerCooldown time.Duration
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/api/stats", a.handleStats).Methods(http.MethodGet)

	m.HandleFunc("/api/sellers", a.handleListSellers).Methods(http.MethodGet)
	m.HandleFunc("/api/sellers", a.handleUpsertSeller).Methods(http.MethodPost)
	m.HandleFunc("/api/sellers/{id}", a.handleGetSeller).Methods(http.MethodGet)
	m.HandleFunc("/api/sellers/{id}/status", a.handleSellerStatus).Methods(http.MethodPatch)

	m.HandleFunc("/api/campaigns", a.handleListCampaigns).Methods(http.MethodGet)
	m.HandleFunc("/api/campaigns", a.handleCreateCampaign).Methods(http.MethodPost)
	m.HandleFunc("/api/campaigns/{id}", a.handleGetCampaign).Methods(http.MethodGet)
	m.HandleFunc("/api/campaigns/{id}/start", a.campaignStatusHandler(domain.CampaignActive, "campaign_started")).Methods(http.MethodPost)
	m.HandleFunc("/api/campaigns/{id}/stop", a.campaignStatusHandler(domain.CampaignStopped, "campaign_stopped")).Methods(http.MethodPost)

	m.HandleFunc("/api/templates", a.handleListTemplates).Methods(http.MethodGet)
	m.HandleFunc("/api/templates", a.handleCreateTemplate).Methods(http.MethodPost)
	m.HandleFunc("/api/templates/{id}", a.handleGetTemplate).Methods(http.MethodGet)
	m.HandleFunc("/api/templates/{id}", a.handleDeleteTemplate).Methods(http.MethodDelete)

	m.HandleFunc("/api/approvals", a.handleListApprovals).Methods(http.MethodGet)
	m.HandleFunc("/api/approvals/batch-approve", a.handleBatchApprove).Methods(http.MethodPost)
	m.HandleFunc("/api/approvals/{id}/approve", a.handleApprove).Methods(http.MethodPost)
	m.HandleFunc("/api/approvals/{id}/reject", a.handleReject).Methods(http.MethodPost)

	m.HandleFunc("/api/outreach/queue", a.handleQueueMessage).Methods(http.MethodPost)
	m.HandleFunc("/api/outreach/execute", a.handleExecuteOutreach).Methods(http.MethodPost)
	m.HandleFunc("/api/outreach/stop", a.handleStopOutreach).Methods(http.MethodPost)
	m.HandleFunc("/api/outreach/status", a.handleOutreachStatus).Methods(http.MethodGet)
	m.HandleFunc("/api/outreach/candidates", a.handleOutreachCandidates).Methods(http.MethodGet)

	m.HandleFunc("/api/research/start", a.handleStartResearch).Methods(http.MethodPost)
	m.HandleFunc("/api/research/queue", a.handleResearchQueue).Methods(http.MethodGet)
	m.HandleFunc("/api/research/{id}/complete", a.handleCompleteResearch).Methods(http.MethodPost)

	m.HandleFunc("/api/profiles", a.handleListProfiles).Methods(http.MethodGet)
	m.HandleFunc("/api/profiles/usage", a.handleProfileUsage).Methods(http.MethodGet)
	m.HandleFunc("/api/profiles/{id}/status", a.handleProfileStatus).Methods(http.MethodGet)

	m.HandleFunc("/api/audit", a.handleAudit).Methods(http.MethodGet)
}

// Every endpoint answers with the same envelope:
// {"success": true, "data": ...} or {"success": false, "error": "..."}.
func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func respondErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// respondDomainErr maps the domain sentinels onto HTTP statuses; everything
// else is a dependency failure.
func respondDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondErr(w, http.StatusNotFound, ErrNotFound)
	case errors.Is(err, domain.ErrAlreadyDecided),
		errors.Is(err, domain.ErrSellerInCooldown),
		errors.Is(err, domain.ErrRunInProgress):
		respondErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMissingFields):
		respondErr(w, http.StatusBadRequest, err.Error())
	default:
		respondErr(w, http.StatusBadGateway, ErrDependency)
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Store.DashboardStats(r.Context(), a.DailyCap, util.NowUTC())
	if err != nil {
		slog.Error("dashboard stats failed", "err", err)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (a *API) handleListSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := a.Store.ListSellers(r.Context(), r.URL.Query().Get("status"), queryLimit(r, 100))
	if err != nil {
		slog.Error("list sellers failed", "err", err)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, sellers)
}

func (a *API) handleGetSeller(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	seller, found, err := a.Store.GetSeller(r.Context(), id)
	if err != nil {
		slog.Error("get seller failed", "err", err, "id", id)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if !found {
		respondErr(w, http.StatusNotFound, ErrNotFound)
		return
	}
	respond(w, http.StatusOK, seller)
}

func (a *API) handleUpsertSeller(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := req.Validate(); err != nil {
		respondDomainErr(w, err)
		return
	}

	res, err := a.Store.UpsertSeller(r.Context(), store.SellerUpsert{
		ExternalID:    req.ExternalID,
		ShopName:      req.ShopName,
		ShopURL:       req.ShopURL,
		Keyword:       req.Keyword,
		Rating:        req.Rating,
		TotalProducts: req.TotalProducts,
		ContactEmail:  req.ContactEmail,
		Metadata:      req.Metadata,
		Now:           util.NowUTC(),
	})
	if err != nil {
		slog.Error("upsert seller failed", "err", err, "seller_id", req.ExternalID)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if res.Created {
		a.Audit.Record(r.Context(), "seller_created", "seller", req.ExternalID, "system", map[string]any{
			"shop_name": req.ShopName,
		})
	}
	respond(w, http.StatusOK, map[string]any{"id": res.SellerID, "created": res.Created})
}

func (a *API) handleSellerStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := a.Store.UpdateSellerStatus(r.Context(), id, req.Status, util.NowUTC()); err != nil {
		respondDomainErr(w, err)
		return
	}
	a.Audit.Record(r.Context(), "seller_status_updated", "seller", strconv.FormatInt(id, 10), "system", map[string]any{
		"new_status": req.Status,
	})
	respond(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.Store.ListCampaigns(r.Context())
	if err != nil {
		slog.Error("list campaigns failed", "err", err)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, campaigns)
}

func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	c, found, err := a.Store.GetCampaign(r.Context(), id)
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if !found {
		respondErr(w, http.StatusNotFound, ErrNotFound)
		return
	}
	respond(w, http.StatusOK, c)
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		TemplateID int64  `json:"templateId"`
		Keywords   string `json:"keywords"`
		DailyLimit int    `json:"dailyLimit"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.Name == "" {
		respondErr(w, http.StatusBadRequest, "missing campaign name")
		return
	}
	id, err := a.Store.CreateCampaign(r.Context(), store.CampaignInsert{
		Name:       req.Name,
		TemplateID: req.TemplateID,
		Keywords:   req.Keywords,
		Status:     string(domain.CampaignDraft),
		DailyLimit: req.DailyLimit,
		Notes:      req.Notes,
	})
	if err != nil {
		slog.Error("create campaign failed", "err", err, "name", req.Name)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	a.Audit.Record(r.Context(), "campaign_created", "campaign", strconv.FormatInt(id, 10), "system", map[string]any{
		"name": req.Name,
	})
	respond(w, http.StatusOK, map[string]any{"id": id})
}

func (a *API) campaignStatusHandler(status domain.CampaignStatus, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			respondErr(w, http.StatusBadRequest, ErrMissingID)
			return
		}
		if err := a.Store.SetCampaignStatus(r.Context(), id, status, util.NowUTC()); err != nil {
			respondDomainErr(w, err)
			return
		}
		a.Audit.Record(r.Context(), action, "campaign", strconv.FormatInt(id, 10), "system", nil)
		respond(w, http.StatusOK, map[string]any{"id": id, "status": status})
	}
}

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.Store.ListTemplates(r.Context(), r.URL.Query().Get("all") == "")
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, templates)
}

func (a *API) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	t, found, err := a.Store.GetTemplate(r.Context(), id)
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	if !found {
		respondErr(w, http.StatusNotFound, ErrNotFound)
		return
	}
	respond(w, http.StatusOK, t)
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name"`
		Subject   string   `json:"subject"`
		Body      string   `json:"body"`
		Type      string   `json:"type"`
		Variables []string `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.Name == "" || req.Body == "" {
		respondErr(w, http.StatusBadRequest, "missing template name or body")
		return
	}
	id, err := a.Store.CreateTemplate(r.Context(), store.TemplateInsert{
		Name:      req.Name,
		Subject:   req.Subject,
		Body:      req.Body,
		Type:      req.Type,
		Variables: req.Variables,
	})
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	a.Audit.Record(r.Context(), "template_created", "template", strconv.FormatInt(id, 10), "system", map[string]any{
		"name": req.Name,
	})
	respond(w, http.StatusOK, map[string]any{"id": id})
}

func (a *API) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	if err := a.Store.DeactivateTemplate(r.Context(), id); err != nil {
		respondDomainErr(w, err)
		return
	}
	a.Audit.Record(r.Context(), "template_deleted", "template", strconv.FormatInt(id, 10), "system", nil)
	respond(w, http.StatusOK, map[string]any{"id": id})
}

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := a.Queue.ListPending(r.Context())
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, pending)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApprovedBy string `json:"approvedBy"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ApprovedBy == "" {
		req.ApprovedBy = "system"
	}
	if err := a.Queue.Approve(r.Context(), mux.Vars(r)["id"], req.ApprovedBy); err != nil {
		respondDomainErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"approved": true})
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RejectedBy string `json:"rejectedBy"`
		Reason     string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RejectedBy == "" {
		req.RejectedBy = "system"
	}
	if err := a.Queue.Reject(r.Context(), mux.Vars(r)["id"], req.RejectedBy, req.Reason); err != nil {
		respondDomainErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"rejected": true})
}

func (a *API) handleBatchApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttemptIDs []string `json:"attemptIds"`
		ApprovedBy string   `json:"approvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.AttemptIDs) == 0 {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = "system"
	}
	results := a.Queue.BatchApprove(r.Context(), req.AttemptIDs, req.ApprovedBy)
	respond(w, http.StatusOK, results)
}

func (a *API) handleQueueMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID    int64  `json:"sellerId"`
		CampaignID  int64  `json:"campaignId"`
		TemplateID  int64  `json:"templateId"`
		Message     string `json:"message"`
		ProfileHint string `json:"profileHint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if req.SellerID == 0 || req.CampaignID == 0 {
		respondErr(w, http.StatusBadRequest, "missing sellerId or campaignId")
		return
	}

	message := req.Message
	if message == "" && req.TemplateID != 0 {
		rendered, err := a.renderForSeller(r.Context(), req.TemplateID, req.SellerID)
		if err != nil {
			respondDomainErr(w, err)
			return
		}
		message = rendered
	}
	if message == "" {
		respondErr(w, http.StatusBadRequest, "missing message or templateId")
		return
	}

	id, err := a.Queue.Enqueue(r.Context(), req.SellerID, req.CampaignID, message, req.ProfileHint)
	if err != nil {
		respondDomainErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"attemptId": id})
}

func (a *API) renderForSeller(ctx context.Context, templateID, sellerID int64) (string, error) {
	tmpl, found, err := a.Store.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrNotFound
	}
	seller, found, err := a.Store.GetSeller(ctx, sellerID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrNotFound
	}
	return util.RenderTemplate(tmpl.Body, map[string]string{
		"shop_name": seller.ShopName,
		"shop_url":  seller.ShopURL,
		"seller_id": seller.ExternalID,
	}), nil
}

func (a *API) handleExecuteOutreach(w http.ResponseWriter, r *http.Request) {
	// Reserve the run slot synchronously so two concurrent triggers cannot
	// both be told the run started.
	if !a.Engine.TryStart() {
		respondDomainErr(w, domain.ErrRunInProgress)
		return
	}

	a.Audit.Record(r.Context(), "outreach_started", "outreach_log", "", "system", nil)

	// The run outlives the request; results land in logs and the database.
	go func() {
		res, err := a.Engine.RunReserved(context.Background(), nil)
		if err != nil {
			slog.Error("outreach run failed", "err", err)
			return
		}
		slog.Info("outreach run completed",
			"total", res.Total, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	}()

	respond(w, http.StatusAccepted, map[string]any{"started": true})
}

func (a *API) handleStopOutreach(w http.ResponseWriter, r *http.Request) {
	a.Engine.Stop()
	a.Audit.Record(r.Context(), "outreach_stopped", "outreach_log", "", "system", nil)
	respond(w, http.StatusOK, map[string]any{"stopping": true})
}

func (a *API) handleOutreachStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"isActive": a.Engine.Active()})
}

func (a *API) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keywords) == 0 {
		respondErr(w, http.StatusBadRequest, "invalid keywords provided")
		return
	}

	now := util.NowUTC()
	ids := make([]int64, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		id, err := a.Store.EnqueueResearch(r.Context(), kw, now)
		if err != nil {
			slog.Error("enqueue research failed", "keyword", kw, "err", err)
			continue
		}
		ids = append(ids, id)
	}
	a.Audit.Record(r.Context(), "research_started", "research_queue", "", "system", map[string]any{
		"keywords": req.Keywords,
	})
	respond(w, http.StatusOK, map[string]any{"queued": ids})
}

// handleOutreachCandidates lists researched sellers outside the contact
// cooldown window, the pool the next batch of messages is drawn from.
func (a *API) handleOutreachCandidates(w http.ResponseWriter, r *http.Request) {
	sellers, err := a.Store.SellersForOutreach(r.Context(), a.SellerCooldown, util.NowUTC(), queryLimit(r, 50))
	if err != nil {
		slog.Error("list outreach candidates failed", "err", err)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, sellers)
}

func (a *API) handleCompleteResearch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondErr(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	var req struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := a.Store.CompleteResearch(r.Context(), id, req.Error, util.NowUTC()); err != nil {
		respondDomainErr(w, err)
		return
	}
	status := "completed"
	if req.Error != "" {
		status = "failed"
	}
	a.Audit.Record(r.Context(), "research_completed", "research_queue", strconv.FormatInt(id, 10), "system", map[string]any{
		"status": status,
	})
	respond(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (a *API) handleResearchQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := a.Store.ListResearchQueue(r.Context(), queryLimit(r, 100))
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, queue)
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if a.AdsPower == nil {
		respondErr(w, http.StatusServiceUnavailable, "profile manager not configured")
		return
	}
	profiles, err := a.AdsPower.ListProfiles(r.Context())
	if err != nil {
		slog.Error("list profiles failed", "err", err)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, profiles)
}

func (a *API) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	if a.AdsPower == nil {
		respondErr(w, http.StatusServiceUnavailable, "profile manager not configured")
		return
	}
	id := mux.Vars(r)["id"]
	status, err := a.AdsPower.ProfileStatus(r.Context(), id)
	if err != nil {
		slog.Error("profile status failed", "err", err, "profile", id)
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, map[string]any{"profileId": id, "status": status})
}

func (a *API) handleProfileUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := a.Store.ListProfileUsage(r.Context())
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, usage)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.Store.ListAudit(r.Context(), q.Get("entityType"), q.Get("entityId"), queryLimit(r, 100))
	if err != nil {
		respondErr(w, http.StatusBadGateway, ErrDependency)
		return
	}
	respond(w, http.StatusOK, entries)
}
