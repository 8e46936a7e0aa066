package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lumina-cms/lumina/internal/audit"
	"github.com/lumina-cms/lumina/internal/authz"
	"github.com/lumina-cms/lumina/internal/platform/httpx"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Exporter writes audit timeline exports.
type Exporter interface {
	WriteCSV(rows []audit.TimelineRow) ([]byte, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger   *slog.Logger
	service  TimelineService
	exporter Exporter
	guard    authz.Middleware
	now      func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TimelineService, exporter Exporter, guard authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		exporter: exporter,
		guard:    guard,
		now:      time.Now,
	}
}

type timelineEntry struct {
	At           time.Time `json:"at"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId,omitempty"`
	SubjectID    string    `json:"subjectId"`
	PerformedBy  string    `json:"performedBy"`
	Success      bool      `json:"success"`
	Reason       string    `json:"reason,omitempty"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	entries := make([]timelineEntry, 0, len(result.Rows))
	for _, row := range result.Rows {
		entries = append(entries, timelineEntry{
			At:           row.At,
			Action:       row.Action,
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID,
			SubjectID:    row.SubjectID,
			PerformedBy:  row.PerformedBy,
			Success:      row.Success,
			Reason:       row.Reason,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"paging": map[string]any{
			"page":     result.Paging.Page,
			"pageSize": result.Paging.PageSize,
			"hasNext":  result.Paging.HasNext,
		},
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	data, err := h.exporter.WriteCSV(rows)
	if err != nil {
		h.logger.Error("write audit csv", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	filename := "audit-" + h.now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	filters := audit.TimelineFilters{
		From:         now.Add(-defaultDateRange),
		To:           now,
		SubjectID:    strings.TrimSpace(q.Get("subject")),
		ResourceType: strings.TrimSpace(q.Get("resource")),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimelineFilters{}, fmt.Errorf("invalid from timestamp")
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimelineFilters{}, fmt.Errorf("invalid to timestamp")
		}
		filters.To = t
	}
	if filters.To.Before(filters.From) {
		return audit.TimelineFilters{}, fmt.Errorf("to must be after from")
	}
	if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, fmt.Errorf("date range too wide")
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.TimelineFilters{}, fmt.Errorf("invalid success flag")
		}
		filters.Success = &success
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return audit.TimelineFilters{}, fmt.Errorf("invalid page")
		}
		filters.Page = page
	}
	if raw := q.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return audit.TimelineFilters{}, fmt.Errorf("invalid pageSize")
		}
		filters.PageSize = size
	}
	return filters, nil
}
