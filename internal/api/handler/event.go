package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/service"
)

// EventHandler handles activity log requests.
type EventHandler struct {
	eventSvc *service.EventService
	logger   *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(eventSvc *service.EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		eventSvc: eventSvc,
		logger:   logger,
	}
}

// EventResponse represents an event in API responses.
type EventResponse struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  string          `json:"severity"`
	Category  string          `json:"category"`
	Dataset   string          `json:"dataset,omitempty"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EventListResponse contains paginated event list.
type EventListResponse struct {
	Events  []EventResponse `json:"events"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// EventStatsResponse contains event service statistics.
type EventStatsResponse struct {
	Total         int            `json:"total"`
	BySeverity    map[string]int `json:"by_severity"`
	BufferSize    int            `json:"buffer_size"`
	BufferUsed    int            `json:"buffer_used"`
	SQLiteEnabled bool           `json:"sqlite_enabled"`
}

// List handles GET /api/v1/events
// Query parameters:
//   - severity: filter by severity (info, warning, error, success)
//   - category: filter by category (import, export, caption, delete, system)
//   - dataset: filter by dataset name
//   - start_time: filter events after this time (RFC3339)
//   - end_time: filter events before this time (RFC3339)
//   - search: search in message text
//   - limit: max events to return (default 50, max 200)
//   - offset: pagination offset
//   - historical: if "true", query SQLite instead of ring buffer
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	query := domain.EventQuery{
		Limit:  50,
		Offset: 0,
	}
	params := r.URL.Query()

	if l := params.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if o := params.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}

	if sev := params.Get("severity"); sev != "" {
		severity := domain.EventSeverity(sev)
		query.Filter.Severity = &severity
	}
	if cat := params.Get("category"); cat != "" {
		category := domain.EventCategory(cat)
		query.Filter.Category = &category
	}
	query.Filter.Dataset = params.Get("dataset")
	query.Filter.SearchText = params.Get("search")
	if startTime := params.Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			query.Filter.StartTime = &t
		}
	}
	if endTime := params.Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			query.Filter.EndTime = &t
		}
	}

	var result *domain.EventQueryResult
	var err error
	if params.Get("historical") == "true" {
		result, err = h.eventSvc.QueryHistorical(r.Context(), query)
	} else {
		result, err = h.eventSvc.Query(r.Context(), query)
	}
	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	response := EventListResponse{
		Events:  make([]EventResponse, 0, len(result.Events)),
		Total:   result.Total,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: result.HasMore,
	}
	for _, e := range result.Events {
		response.Events = append(response.Events, toEventResponse(e))
	}

	writeJSON(w, http.StatusOK, response)
}

// Stats handles GET /api/v1/events/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.eventSvc.Stats()

	bySeverity := make(map[string]int)
	total := 0
	for _, severity := range severities() {
		sev := domain.EventSeverity(severity)
		result, err := h.eventSvc.Query(r.Context(), domain.EventQuery{
			Filter: domain.EventFilter{Severity: &sev},
			Limit:  1,
		})
		if err != nil {
			h.logger.Error("failed to count events", "severity", severity, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to count events")
			return
		}
		bySeverity[severity] = result.Total
		total += result.Total
	}

	writeJSON(w, http.StatusOK, EventStatsResponse{
		Total:         total,
		BySeverity:    bySeverity,
		BufferSize:    stats.BufferSize,
		BufferUsed:    stats.BufferUsed,
		SQLiteEnabled: stats.SQLiteEnabled,
	})
}

// Categories handles GET /api/v1/events/categories
func (h *EventHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories := []string{
		string(domain.EventCategoryImport),
		string(domain.EventCategoryExport),
		string(domain.EventCategoryCaption),
		string(domain.EventCategoryDelete),
		string(domain.EventCategorySystem),
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// Severities handles GET /api/v1/events/severities
func (h *EventHandler) Severities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"severities": severities()})
}

func severities() []string {
	return []string{
		string(domain.EventSeverityInfo),
		string(domain.EventSeverityWarning),
		string(domain.EventSeverityError),
		string(domain.EventSeveritySuccess),
	}
}

func toEventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        string(e.ID),
		Timestamp: e.Timestamp,
		Severity:  string(e.Severity),
		Category:  string(e.Category),
		Dataset:   e.Dataset,
		Message:   e.Message,
		Metadata:  e.Metadata,
	}
}
