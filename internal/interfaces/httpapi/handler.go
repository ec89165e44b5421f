package httpapi

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"flipwatch/internal/domain/model"
)

// SyncService 同步入口（SyncCoordinator）
type SyncService interface {
	Sync(ctx context.Context, owner string, src model.Source) (*model.BatchResult, error)
	Refresh(ctx context.Context, owner string) (*model.RefreshResult, error)
	Status(ctx context.Context, owner string) ([]model.SyncCursor, error)
}

// OpportunityService 机会查询（OpportunityAggregator）
type OpportunityService interface {
	Query(ctx context.Context, owner string, f model.Filter, s model.Sort, p model.Page) (*model.OpportunityPage, error)
	Count(ctx context.Context, owner string, f model.Filter) (int, error)
}

// ExclusionService 排除记录（ExclusionLedger）
type ExclusionService interface {
	ExcludeListing(ctx context.Context, owner, listingID, counterpartID, reason string) error
	RestoreListing(ctx context.Context, owner, listingID string) error
	ExcludeItem(ctx context.Context, owner string, itemID int64, reason string) error
	RestoreItem(ctx context.Context, owner string, itemID int64) error
	ListListingExclusions(ctx context.Context, owner, counterpartID string) ([]model.ListingExclusion, error)
	ListItemExclusions(ctx context.Context, owner string) ([]model.ItemExclusion, error)
}

// Handler 所有 /api/v1 路由
type Handler struct {
	sync          SyncService
	opportunities OpportunityService
	exclusions    ExclusionService
	owners        []string // 为空时不校验 owner
}

func NewHandler(sync SyncService, opportunities OpportunityService, exclusions ExclusionService, owners []string) *Handler {
	return &Handler{sync: sync, opportunities: opportunities, exclusions: exclusions, owners: owners}
}

// owner 取路径参数并校验是否为已配置的 owner
func (h *Handler) owner(c *gin.Context) (string, bool) {
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" || (len(h.owners) > 0 && !slices.Contains(h.owners, owner)) {
		fail(c, http.StatusNotFound, CodeNotFound, "unknown owner "+strconv.Quote(owner))
		return "", false
	}
	return owner, true
}

// ========== Sync ==========

// TriggerSync POST /owners/:owner/sync/:source
func (h *Handler) TriggerSync(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	src, err := model.ParseSource(c.Param("source"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.sync.Sync(c.Request.Context(), owner, src)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

// SyncStatus GET /owners/:owner/sync
func (h *Handler) SyncStatus(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	cursors, err := h.sync.Status(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	if cursors == nil {
		cursors = []model.SyncCursor{}
	}
	success(c, http.StatusOK, cursors)
}

// RefreshWatchlist POST /owners/:owner/watchlist/refresh
func (h *Handler) RefreshWatchlist(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	res, err := h.sync.Refresh(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, res)
}

// ========== Opportunities ==========

// ListOpportunities GET /owners/:owner/opportunities
func (h *Handler) ListOpportunities(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	field, err := model.ParseSortField(c.Query("sort"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var desc bool
	switch strings.ToLower(c.Query("order")) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		badRequest(c, "order must be asc or desc")
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	page, err := h.opportunities.Query(c.Request.Context(), owner, filter,
		model.Sort{Field: field, Desc: desc}, model.Page{Offset: offset, Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, page)
}

// CountOpportunities GET /owners/:owner/opportunities/count
func (h *Handler) CountOpportunities(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	n, err := h.opportunities.Count(c.Request.Context(), owner, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"mode": filter.Mode, "count": n})
}

func parseFilter(c *gin.Context) (model.Filter, bool) {
	mode, err := model.ParseFilterMode(c.Query("filter"))
	if err != nil {
		badRequest(c, err.Error())
		return model.Filter{}, false
	}
	return model.Filter{Mode: mode, Search: strings.TrimSpace(c.Query("q"))}, true
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return v, true
}

// ========== Exclusions ==========

type excludeListingRequest struct {
	ListingID     string `json:"listing_id"`
	CounterpartID string `json:"counterpart_id"`
	Reason        string `json:"reason"`
}

type excludeItemRequest struct {
	Reason string `json:"reason"`
}

// ExcludeListing POST /owners/:owner/exclusions/listings
func (h *Handler) ExcludeListing(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req excludeListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.exclusions.ExcludeListing(c.Request.Context(), owner, req.ListingID, req.CounterpartID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusCreated, req)
}

// ListListingExclusions GET /owners/:owner/exclusions/listings?counterpart=
func (h *Handler) ListListingExclusions(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	out, err := h.exclusions.ListListingExclusions(c.Request.Context(), owner, strings.TrimSpace(c.Query("counterpart")))
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []model.ListingExclusion{}
	}
	success(c, http.StatusOK, out)
}

// RestoreListing DELETE /owners/:owner/exclusions/listings/:listing
func (h *Handler) RestoreListing(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.exclusions.RestoreListing(c.Request.Context(), owner, c.Param("listing")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExcludeItem POST /owners/:owner/items/:item/exclusion
func (h *Handler) ExcludeItem(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	itemID, ok := itemParam(c)
	if !ok {
		return
	}
	var req excludeItemRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	if err := h.exclusions.ExcludeItem(c.Request.Context(), owner, itemID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	success(c, http.StatusCreated, gin.H{"item_id": itemID, "reason": req.Reason})
}

// RestoreItem DELETE /owners/:owner/items/:item/exclusion
func (h *Handler) RestoreItem(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	itemID, ok := itemParam(c)
	if !ok {
		return
	}
	if err := h.exclusions.RestoreItem(c.Request.Context(), owner, itemID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListItemExclusions GET /owners/:owner/exclusions/items
func (h *Handler) ListItemExclusions(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	out, err := h.exclusions.ListItemExclusions(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []model.ItemExclusion{}
	}
	success(c, http.StatusOK, out)
}

func itemParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("item"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "item id must be a positive integer")
		return 0, false
	}
	return id, true
}
