package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pagewatch/internal/config"
	"pagewatch/internal/coordinator"
	"pagewatch/internal/database"
	"pagewatch/internal/models"
	"pagewatch/internal/reporter"
	"pagewatch/pkg/utils"
)

// StatusFunc snapshots the live attention state. Nil when the server runs
// without a coordinator (report-only mode).
type StatusFunc func() coordinator.Status

type Handler struct {
	config   *config.Config
	repo     *database.Repository
	reporter *reporter.Reporter
	status   StatusFunc
	ingest   *Ingest
}

func NewHandler(cfg *config.Config, repo *database.Repository, status StatusFunc, ingest *Ingest) *Handler {
	return &Handler{
		config:   cfg,
		repo:     repo,
		reporter: reporter.New(cfg, repo),
		status:   status,
		ingest:   ingest,
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/visits", h.handleVisits)
	mux.HandleFunc("/api/visits/latest", h.handleLatestVisit)
	mux.HandleFunc("/api/report", h.handleReport)
	mux.HandleFunc("/api/summary", h.handleSummary)
	mux.HandleFunc("/api/status", h.handleStatus)
	if h.ingest != nil {
		mux.HandleFunc("/api/browser/events", h.ingest.ServeHTTP)
	}

	mux.HandleFunc("/health", h.handleHealth)

	mux.HandleFunc("/", h.handleIndex)
}

func (h *Handler) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	limitStr := query.Get("limit")
	periodType := query.Get("period") // day, week, month

	var visits []*models.PageVisit

	if periodType != "" {
		period, err := h.getPeriod(periodType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		visits, err = h.repo.GetVisitsSince(period.Start)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to fetch visits: %v", err), http.StatusInternalServerError)
			return
		}
	} else {
		start := time.Now().Add(-24 * time.Hour)
		allVisits, err := h.repo.GetVisitsSince(start)
		if err == nil {
			limit := 100 // default
			if limitStr != "" {
				if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
					limit = l
				}
			}

			if len(allVisits) > limit {
				visits = allVisits[len(allVisits)-limit:]
			} else {
				visits = allVisits
			}
		}
	}

	respondJSON(w, visits)
}

func (h *Handler) handleLatestVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	visit, err := h.repo.GetLatestVisit()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch latest visit: %v", err), http.StatusInternalServerError)
		return
	}

	if visit == nil {
		http.Error(w, "No visits found", http.StatusNotFound)
		return
	}

	respondJSON(w, visit)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(periodType)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate report: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, report)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	period, err := h.getPeriod(periodType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := h.repo.GetDomainSummarySince(period.Start)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get summary: %v", err), http.StatusInternalServerError)
		return
	}

	var totalSeconds int64
	for i := range summaries {
		summaries[i].TotalMinutes = float64(summaries[i].TotalSeconds) / 60.0
		summaries[i].TotalHours = float64(summaries[i].TotalSeconds) / 3600.0
		totalSeconds += summaries[i].TotalSeconds
	}

	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (float64(summaries[i].TotalSeconds) / float64(totalSeconds)) * 100.0
		}
	}

	if r.Header.Get("HX-Request") == "true" {
		h.respondSummaryHTML(w, summaries, totalSeconds)
		return
	}

	response := map[string]interface{}{
		"period":        period,
		"domains":       summaries,
		"total_seconds": totalSeconds,
		"total_minutes": float64(totalSeconds) / 60.0,
		"total_hours":   float64(totalSeconds) / 3600.0,
	}

	respondJSON(w, response)
}

func (h *Handler) respondSummaryHTML(w http.ResponseWriter, summaries []models.DomainSummary, totalSeconds int64) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if len(summaries) == 0 {
		w.Write([]byte(`<div class="loading">No data available</div>`))
		return
	}

	html := `<div class="listing">`
	for _, d := range summaries {
		timeStr := utils.FormatRoundedUnit(d.TotalSeconds)
		percentStr := utils.FormatPaddedPercent(d.Percentage)

		html += fmt.Sprintf(`
		<div class="domain-item" style="--bar-width: %.1f%%">
			<span class="domain-name">%s</span>
			<div>
				<span class="domain-time">%s</span>
				<span class="domain-percentage">%s</span>
			</div>
		</div>`, d.Percentage, d.Domain, timeStr, percentStr)
	}
	html += `</div>`

	totalStr := utils.FormatRoundedUnit(totalSeconds)

	html += fmt.Sprintf(`<div class="total">Total: %s</div>`, totalStr)

	w.Write([]byte(html))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	latestVisit, _ := h.repo.GetLatestVisit()

	status := map[string]interface{}{
		"running":        true,
		"database_path":  h.config.Database.Path,
		"track_input":    h.config.Idle.TrackInput,
		"record_private": h.config.Recorder.RecordPrivate,
	}

	if h.status != nil {
		status["attention"] = h.status()
	}

	if latestVisit != nil {
		status["latest_visit"] = map[string]interface{}{
			"page_id":    latestVisit.PageID,
			"url":        latestVisit.URL,
			"domain":     latestVisit.Domain,
			"start_time": latestVisit.StartTime,
		}
	}

	respondJSON(w, status)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) getPeriod(periodType string) (*models.ReportPeriod, error) {
	now := time.Now()
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.Add(24 * time.Hour)

	case "week":
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{Start: start, End: end, Type: periodType}, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Pagewatch Dashboard</title>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f5f5;
            padding: 20px;
            color: #333;
        }

        h1 { color: #1a1a1a; font-size: 2rem; margin-bottom: 30px; }

        .dashboard { display: flex; gap: 20px; flex-wrap: wrap; }

        .report-box {
            flex: 1;
            min-width: 300px;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            padding: 24px;
        }

        .report-box h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            color: #2c3e50;
            border-bottom: 2px solid #3498db;
            padding-bottom: 10px;
        }

        .domain-item {
            display: flex;
            justify-content: space-between;
            padding: 8px 10px;
            border-bottom: 1px solid #eee;
            position: relative;
        }

        .domain-item::before {
            content: '';
            position: absolute;
            left: 0; top: 0; bottom: 0;
            width: var(--bar-width, 0%);
            background: rgba(52, 152, 219, 0.12);
        }

        .domain-name { font-weight: 500; }
        .domain-time { color: #7f8c8d; margin-right: 12px; }
        .domain-percentage { color: #3498db; }

        .total {
            margin-top: 16px;
            font-weight: 600;
            color: #2c3e50;
        }

        .loading { color: #7f8c8d; padding: 20px 0; }
    </style>
</head>
<body>
    <h1>Pagewatch</h1>
    <div class="dashboard">
        <div class="report-box">
            <h2>Today</h2>
            <div hx-get="/api/summary?period=day" hx-trigger="load, every 30s">
                <div class="loading">Loading...</div>
            </div>
        </div>
        <div class="report-box">
            <h2>This Week</h2>
            <div hx-get="/api/summary?period=week" hx-trigger="load, every 60s">
                <div class="loading">Loading...</div>
            </div>
        </div>
        <div class="report-box">
            <h2>This Month</h2>
            <div hx-get="/api/summary?period=month" hx-trigger="load, every 60s">
                <div class="loading">Loading...</div>
            </div>
        </div>
    </div>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
