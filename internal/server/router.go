package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse/backend/internal/aggregate"
	"github.com/pulsehq/pulse/backend/internal/badges"
	"github.com/pulsehq/pulse/backend/internal/cache"
	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/members"
	"github.com/pulsehq/pulse/backend/internal/query"
)

const ingestAggregationTimeout = 10 * time.Minute

var (
	errMissingOrchestrator = errors.New("aggregation orchestrator dependency required")
	errMissingQueryService = errors.New("query service dependency required")
	errMissingMembers      = errors.New("member service dependency required")
	errMissingCommitStore  = errors.New("commit store dependency required")
)

// AggregationRunner executes aggregation requests.
type AggregationRunner interface {
	Run(ctx context.Context, request aggregate.Request) (aggregate.Report, error)
}

// StatsReader answers range, badge and trophy reads.
type StatsReader interface {
	GetStats(ctx context.Context, memberID members.MemberID, granularity query.Granularity, anchor calendar.DayKey) (query.RangeStats, error)
	GetCustomRange(ctx context.Context, memberID members.MemberID, first, last calendar.DayKey) (query.RangeStats, error)
	GetBadges(ctx context.Context, memberID members.MemberID) ([]query.Badge, error)
	GetTrophies(ctx context.Context, memberID members.MemberID) ([]badges.Trophy, error)
}

// MemberService manages member identities.
type MemberService interface {
	GetByEmail(ctx context.Context, email string) (members.Member, error)
	Upsert(ctx context.Context, member members.Member) (members.Member, error)
	Remove(ctx context.Context, id members.MemberID) error
}

// CommitRecorder accepts commit event batches from the ingestion collaborator.
type CommitRecorder interface {
	RecordEvents(ctx context.Context, events []commits.CommitEvent) ([]string, error)
}

// DerivedCleaner drops a member's derived rows on removal.
type DerivedCleaner interface {
	DeleteForMember(ctx context.Context, memberID string) error
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Orchestrator  AggregationRunner
	Query         StatsReader
	Members       MemberService
	Commits       CommitRecorder
	ActivityRows  DerivedCleaner
	SnapshotRows  DerivedCleaner
	Cache         cache.Store
	Logger        *zap.Logger
	MetricsSource prometheus.Gatherer
}

// NewHTTPHandler builds the gin router over the given dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Orchestrator == nil {
		return nil, errMissingOrchestrator
	}
	if deps.Query == nil {
		return nil, errMissingQueryService
	}
	if deps.Members == nil {
		return nil, errMissingMembers
	}
	if deps.Commits == nil {
		return nil, errMissingCommitStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		orchestrator: deps.Orchestrator,
		query:        deps.Query,
		members:      deps.Members,
		commits:      deps.Commits,
		activityRows: deps.ActivityRows,
		snapshotRows: deps.SnapshotRows,
		cache:        deps.Cache,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsSource != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.MetricsSource, promhttp.HandlerOpts{})))
	}

	router.GET("/members/:id/stats", handler.handleGetStats)
	router.GET("/members/:id/badges", handler.handleGetBadges)
	router.GET("/members/:id/trophies", handler.handleGetTrophies)

	admin := router.Group("/admin")
	admin.POST("/aggregate", handler.handleAggregate)
	admin.POST("/commits", handler.handleIngestCommits)
	admin.POST("/members", handler.handleUpsertMember)
	admin.DELETE("/members/:id", handler.handleRemoveMember)

	return router, nil
}

type httpHandler struct {
	orchestrator AggregationRunner
	query        StatsReader
	members      MemberService
	commits      CommitRecorder
	activityRows DerivedCleaner
	snapshotRows DerivedCleaner
	cache        cache.Store
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type aggregateRequestPayload struct {
	Mode     string `json:"mode"`
	MemberID string `json:"member_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (h *httpHandler) handleAggregate(c *gin.Context) {
	var payload aggregateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	mode, err := aggregate.ParseMode(payload.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode"})
		return
	}

	request := aggregate.Request{Mode: mode}
	if mode == aggregate.ModeMember {
		memberID, idErr := members.NewMemberID(payload.MemberID)
		if idErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
			return
		}
		request.MemberID = memberID
	}
	if mode == aggregate.ModeDateRange {
		from, fromErr := calendar.ParseDayKey(payload.From)
		to, toErr := calendar.ParseDayKey(payload.To)
		if fromErr != nil || toErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date_range"})
			return
		}
		request.From = from
		request.To = to
	}

	report, err := h.orchestrator.Run(c.Request.Context(), request)
	if err != nil {
		switch {
		case errors.Is(err, members.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
		case errors.Is(err, aggregate.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("aggregation run failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

type commitPayload struct {
	SHA          string    `json:"sha"`
	Repository   string    `json:"repository"`
	AuthorEmail  string    `json:"author_email"`
	AuthoredAt   time.Time `json:"authored_at"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	FilesChanged int       `json:"files_changed"`
	Message      string    `json:"message"`
}

type ingestRequestPayload struct {
	Events []commitPayload `json:"events"`
}

// handleIngestCommits is the hand-off point for the ingestion collaborator:
// it records the batch and fires a member-mode rebuild for each affected
// active member in the background.
func (h *httpHandler) handleIngestCommits(c *gin.Context) {
	var payload ingestRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	events := make([]commits.CommitEvent, 0, len(payload.Events))
	for _, event := range payload.Events {
		events = append(events, commits.CommitEvent{
			SHA:          event.SHA,
			Repository:   event.Repository,
			AuthorEmail:  event.AuthorEmail,
			AuthoredAt:   event.AuthoredAt,
			Additions:    event.Additions,
			Deletions:    event.Deletions,
			FilesChanged: event.FilesChanged,
			Message:      event.Message,
		})
	}

	authors, err := h.commits.RecordEvents(c.Request.Context(), events)
	if err != nil {
		if errors.Is(err, commits.ErrInvalidSHA) || errors.Is(err, commits.ErrInvalidAuthorEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
			return
		}
		h.logger.Error("commit ingestion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed"})
		return
	}

	triggered := 0
	for _, email := range authors {
		member, lookupErr := h.members.GetByEmail(c.Request.Context(), email)
		if lookupErr != nil {
			continue
		}
		if !member.Active {
			continue
		}
		memberID, idErr := members.NewMemberID(member.ID)
		if idErr != nil {
			h.logger.Warn("skipping aggregation for member with unusable id",
				zap.String("email", email),
				zap.Error(idErr))
			continue
		}
		triggered++
		go h.runBackgroundAggregation(memberID)
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": len(events), "aggregations_triggered": triggered})
}

func (h *httpHandler) runBackgroundAggregation(memberID members.MemberID) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestAggregationTimeout)
	defer cancel()
	report, err := h.orchestrator.Run(ctx, aggregate.Request{Mode: aggregate.ModeMember, MemberID: memberID})
	if err != nil {
		h.logger.Warn("post-ingest aggregation failed",
			zap.String("member_id", memberID.String()),
			zap.Error(err))
		return
	}
	if report.Failed > 0 {
		h.logger.Warn("post-ingest aggregation had failed units",
			zap.String("member_id", memberID.String()),
			zap.Int("failed", report.Failed))
	}
}

type memberRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Active      *bool  `json:"active"`
}

func (h *httpHandler) handleUpsertMember(c *gin.Context) {
	var payload memberRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	member, err := h.members.Upsert(c.Request.Context(), members.Member{
		Email:       payload.Email,
		DisplayName: payload.DisplayName,
		Active:      active,
	})
	if err != nil {
		if errors.Is(err, members.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		h.logger.Error("member upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_upsert_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           member.ID,
		"email":        member.Email,
		"display_name": member.DisplayName,
		"active":       member.Active,
	})
}

// handleRemoveMember deletes the member and every derived row; the only path
// that ever deletes activity records or snapshots.
func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	memberID, err := members.NewMemberID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	if err := h.members.Remove(c.Request.Context(), memberID); err != nil {
		if errors.Is(err, members.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
			return
		}
		h.logger.Error("member removal failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_removal_failed"})
		return
	}

	if h.activityRows != nil {
		if err := h.activityRows.DeleteForMember(c.Request.Context(), memberID.String()); err != nil {
			h.logger.Error("activity cleanup failed", zap.String("member_id", memberID.String()), zap.Error(err))
		}
	}
	if h.snapshotRows != nil {
		if err := h.snapshotRows.DeleteForMember(c.Request.Context(), memberID.String()); err != nil {
			h.logger.Error("snapshot cleanup failed", zap.String("member_id", memberID.String()), zap.Error(err))
		}
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), cache.MemberPrefix(memberID.String()))
	}

	c.JSON(http.StatusOK, gin.H{"removed": memberID.String()})
}

func (h *httpHandler) handleGetStats(c *gin.Context) {
	memberID, err := members.NewMemberID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	fromParam := c.Query("from")
	toParam := c.Query("to")
	if fromParam != "" || toParam != "" {
		from, fromErr := calendar.ParseDayKey(fromParam)
		to, toErr := calendar.ParseDayKey(toParam)
		if fromErr != nil || toErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date_range"})
			return
		}
		result, rangeErr := h.query.GetCustomRange(c.Request.Context(), memberID, from, to)
		h.respondRange(c, result, rangeErr)
		return
	}

	granularity, err := query.ParseGranularity(c.DefaultQuery("granularity", string(query.GranularityWeek)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_granularity"})
		return
	}

	// A missing anchor stays zero; the query service anchors it on today in
	// the configured civil timezone. Deriving a day key from the host clock
	// here would bypass the calendar authority.
	anchorParam := c.Query("anchor")
	var anchor calendar.DayKey
	if anchorParam != "" {
		anchor, err = calendar.ParseDayKey(anchorParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_anchor"})
			return
		}
	}

	result, err := h.query.GetStats(c.Request.Context(), memberID, granularity, anchor)
	h.respondRange(c, result, err)
}

func (h *httpHandler) respondRange(c *gin.Context, result query.RangeStats, err error) {
	if err != nil {
		switch {
		case errors.Is(err, members.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
		case errors.Is(err, query.ErrInvalidGranularity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
		default:
			h.logger.Error("range read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_read_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetBadges(c *gin.Context) {
	memberID, err := members.NewMemberID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	unlocked, err := h.query.GetBadges(c.Request.Context(), memberID)
	if err != nil {
		if errors.Is(err, members.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
			return
		}
		h.logger.Error("badge read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "badges_read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": unlocked})
}

func (h *httpHandler) handleGetTrophies(c *gin.Context) {
	memberID, err := members.NewMemberID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	trophies, err := h.query.GetTrophies(c.Request.Context(), memberID)
	if err != nil {
		if errors.Is(err, members.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
			return
		}
		h.logger.Error("trophy read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trophies_read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trophies": trophies})
}
