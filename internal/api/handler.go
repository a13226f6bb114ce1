package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights-go/internal/actionable"
	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/dataset"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/storage"
	"call-insights-go/internal/types"
)

const (
	dateLayout = "2006-01-02"
	xlsxType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var errBadDate = errors.New("invalid date format, use YYYY-MM-DD")

type handler struct {
	ingester      Ingester
	store         storage.Store
	log           *logger.Logger
	uploadTimeout time.Duration
}

// writeError maps domain errors onto status codes with a {"detail": ...} body.
func (h *handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, processor.ErrInvalidPayload),
		errors.Is(err, aggregator.ErrInvalidTimeRange),
		errors.Is(err, errBadDate):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.WithRequest(c.Request).WithField("error", err.Error()).Error("request failed")
		c.JSON(status, gin.H{"detail": fmt.Sprintf("Internal server error: %v", err)})
		return
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

// bindOptional binds a JSON body whose fields are all optional; an empty
// body is accepted.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func (h *handler) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *handler) uploadTranscript(c *gin.Context) {
	var p types.TranscriptPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return
	}

	ctx := c.Request.Context()
	if h.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.uploadTimeout)
		defer cancel()
	}
	res, err := h.ingester.Ingest(ctx, p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.Queued {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "conversation_id": res.ConversationID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"insight":  res.Insight,
		"failures": res.Failures,
	})
}

type clientConfigRequest struct {
	ClientID     string         `json:"client_id" binding:"required"`
	ClientName   string         `json:"client_name" binding:"required"`
	ClientConfig map[string]any `json:"client_config"`
}

func (h *handler) initializeClient(c *gin.Context) {
	var req clientConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return
	}
	_, err := h.store.InitializeClient(c.Request.Context(), types.ClientConfig{
		ClientID:   req.ClientID,
		ClientName: req.ClientName,
		Config:     req.ClientConfig,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "client registered"})
}

func (h *handler) clientConfigs(c *gin.Context) {
	configs, err := h.store.ClientConfigs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, cfg.Config)
	}
	c.JSON(http.StatusOK, out)
}

type rangeRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	ClientID  string `json:"client_id"`
}

func (r rangeRequest) filter() (types.TotalsFilter, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return types.TotalsFilter{}, err
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return types.TotalsFilter{}, err
	}
	return types.TotalsFilter{Start: start, End: end, ClientID: r.ClientID}, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errBadDate, s)
	}
	return t, nil
}

func (h *handler) totals(c *gin.Context) ([]types.AggregatedTotals, bool) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return nil, false
	}
	f, err := req.filter()
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	rows, err := h.store.AggregatedTotals(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return rows, true
}

func (h *handler) aggregatedTotals(c *gin.Context) {
	rows, ok := h.totals(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregator.SumTotals(rows))
}

func (h *handler) timeSeries(c *gin.Context) {
	rows, ok := h.totals(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregator.TimeSeries(rows))
}

type recentRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	ClientID  string `json:"client_id"`
	Limit     *int   `json:"limit"`
}

type recentConversation struct {
	ConversationID string            `json:"conversation_id"`
	Content        types.DumpContent `json:"content"`
	CreatedAt      time.Time         `json:"created_at"`
	ClientID       string            `json:"client_id"`
}

func (h *handler) recentConversations(c *gin.Context) {
	var req recentRequest
	if err := bindOptional(c, &req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return
	}
	f := types.RecentFilter{ClientID: req.ClientID, Limit: storage.DefaultRecentLimit}
	if req.Limit != nil {
		if *req.Limit <= 0 {
			h.writeError(c, fmt.Errorf("%w: limit must be positive", processor.ErrInvalidPayload))
			return
		}
		f.Limit = *req.Limit
	}
	if req.StartDate != "" {
		start, err := parseDate(req.StartDate)
		if err != nil {
			h.writeError(c, err)
			return
		}
		f.Start = &start
	}
	if req.EndDate != "" {
		end, err := parseDate(req.EndDate)
		if err != nil {
			h.writeError(c, err)
			return
		}
		// the end date is inclusive
		end = end.Add(24*time.Hour - time.Nanosecond)
		f.End = &end
	}

	dumps, err := h.store.RecentConversations(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]recentConversation, 0, len(dumps))
	for _, d := range dumps {
		out = append(out, recentConversation{
			ConversationID: d.ConversationID,
			Content:        d.Content,
			CreatedAt:      d.CreatedAt,
			ClientID:       d.ClientID,
		})
	}
	c.JSON(http.StatusOK, out)
}

type insightsRequest struct {
	ConversationIDs []string `json:"conversation_ids" binding:"required"`
	ClientID        string   `json:"client_id"`
}

func (h *handler) conversationInsights(c *gin.Context) {
	var req insightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return
	}
	if len(req.ConversationIDs) == 0 {
		c.JSON(http.StatusOK, []types.InsightRecord{})
		return
	}
	recs, err := h.store.Insights(c.Request.Context(), req.ConversationIDs, req.ClientID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if recs == nil {
		recs = []types.InsightRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

type summaryRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
	ClientID        string   `json:"client_id"`
}

func (h *handler) insightsSummary(c *gin.Context) {
	var req summaryRequest
	if err := bindOptional(c, &req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err))
		return
	}
	recs, err := h.store.Insights(c.Request.Context(), req.ConversationIDs, req.ClientID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, actionable.Summarize(recs))
}

func (h *handler) exportInsights(c *gin.Context) {
	ids := c.QueryArray("conversation_id")
	clientID := c.Query("client_id")
	if len(ids) == 0 && clientID == "" {
		h.writeError(c, fmt.Errorf("%w: conversation_id or client_id is required", processor.ErrInvalidPayload))
		return
	}
	recs, err := h.store.Insights(c.Request.Context(), ids, clientID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if len(recs) == 0 {
		h.writeError(c, fmt.Errorf("no insights to export: %w", storage.ErrNotFound))
		return
	}

	var buf bytes.Buffer
	if err := dataset.WriteInsights(&buf, recs); err != nil {
		h.writeError(c, err)
		return
	}
	name := "conversation-insights.xlsx"
	if clientID != "" {
		name = clientID + "-insights.xlsx"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxType, buf.Bytes())
}
