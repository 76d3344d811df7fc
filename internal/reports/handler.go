package reports

import (
	"errors"
	"net/http"
	"time"
)

// Handler serves on-demand report downloads.
type Handler struct {
	service *Service
	loc     *time.Location
}

// NewHandler constructs a report handler.
func NewHandler(service *Service, loc *time.Location) (*Handler, error) {
	if service == nil {
		return nil, errors.New("reports handler: nil service")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handler{service: service, loc: loc}, nil
}

// ServeHTTP handles GET /api/v1/reports/daily?date=YYYY-MM-DD&format=pdf|xlsx.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", raw, h.loc)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}

	report, err := h.service.BuildDaily(r.Context(), date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch format {
	case "pdf":
		artifact, err := BuildDailyPDF(report)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="usage-`+raw+`.pdf"`)
		_, _ = w.Write(artifact)
	case "xlsx":
		artifact, err := BuildDailyXLSX(report)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="usage-`+raw+`.xlsx"`)
		_, _ = w.Write(artifact)
	default:
		http.Error(w, "format must be pdf or xlsx", http.StatusBadRequest)
	}
}
