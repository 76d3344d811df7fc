package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "waterwatch/internal/alarms/application"
	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/audit"
	"waterwatch/internal/auth"
)

const timeLayout = time.RFC3339

// StatusSource serves the monitoring dashboard snapshot.
type StatusSource interface {
	Status() alarmapp.Snapshot
}

// ThresholdAdmin toggles threshold rules.
type ThresholdAdmin interface {
	List(ctx context.Context) ([]alarms.ThresholdRule, error)
	SetEnabled(ctx context.Context, ref string, enabled bool) error
}

// DeliveryReader serves the delivery log and accepts provider receipts.
type DeliveryReader interface {
	ListByAlarm(ctx context.Context, alarmEventID string) ([]alarms.DeliveryRecord, error)
	MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error
}

// Reloader re-reads the monitoring config from disk.
type Reloader interface {
	Reload() error
}

// Auditor records and lists operator actions.
type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) error
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Handler provides the engine's HTTP API.
type Handler struct {
	service    *alarmapp.Service
	status     StatusSource
	thresholds ThresholdAdmin
	deliveries DeliveryReader
	reloader   Reloader
	auditor    Auditor
	logger     *log.Logger
}

// NewHandler constructs a handler. auditor and logger may be nil.
func NewHandler(service *alarmapp.Service, status StatusSource, thresholds ThresholdAdmin, deliveries DeliveryReader, reloader Reloader, auditor Auditor, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	if status == nil {
		return nil, errors.New("alarms handler: nil status source")
	}
	if thresholds == nil {
		return nil, errors.New("alarms handler: nil threshold admin")
	}
	if deliveries == nil {
		return nil, errors.New("alarms handler: nil delivery reader")
	}
	return &Handler{
		service:    service,
		status:     status,
		thresholds: thresholds,
		deliveries: deliveries,
		reloader:   reloader,
		auditor:    auditor,
		logger:     logger,
	}, nil
}

// Register wires the handler's routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", h.handleStatus)
	mux.HandleFunc("/api/v1/alarms", h.handleListAlarms)
	mux.HandleFunc("/api/v1/alarms/", h.handleAlarmAction)
	mux.HandleFunc("/api/v1/thresholds", h.handleListThresholds)
	mux.HandleFunc("/api/v1/thresholds/", h.handleThresholdAction)
	mux.HandleFunc("/api/v1/deliveries/receipt", h.handleDeliveryReceipt)
	mux.HandleFunc("/api/v1/config/reload", h.handleConfigReload)
	mux.HandleFunc("/api/v1/audit", h.handleAudit)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.status.Status())
}

func (h *Handler) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	list, err := h.service.ListAlarms(r.Context(), status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.AlarmEvent{}
	}
	writeJSON(w, list)
}

func (h *Handler) handleAlarmAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]

	switch action {
	case "ack":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAck(w, r, id)
	case "deliveries":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		records, err := h.deliveries.ListByAlarm(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []alarms.DeliveryRecord{}
		}
		writeJSON(w, records)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request, id string) {
	actor := auth.SubjectFromContext(r.Context())
	if actor == "" {
		actor = "anonymous"
	}
	event, err := h.service.Acknowledge(r.Context(), id, actor)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.audit(r, audit.ActionAlarmAck, "alarm_event", id, nil)
	writeJSON(w, event)
}

func (h *Handler) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rules, err := h.thresholds.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []alarms.ThresholdRule{}
	}
	writeJSON(w, rules)
}

func (h *Handler) handleThresholdAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/thresholds/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ref, action := parts[0], parts[1]

	var enabled bool
	var auditAction string
	switch action {
	case "enable":
		enabled, auditAction = true, audit.ActionRuleEnable
	case "disable":
		enabled, auditAction = false, audit.ActionRuleDisable
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.thresholds.SetEnabled(r.Context(), ref, enabled); err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.audit(r, auditAction, "threshold", ref, nil)
	writeJSON(w, map[string]any{"ref": ref, "enabled": enabled})
}

// handleDeliveryReceipt accepts provider delivery callbacks. The SMS
// gateway posts {"message_id": "...", "delivered_at": "..."} here.
func (h *Handler) handleDeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		MessageID   string `json:"message_id"`
		DeliveredAt string `json:"delivered_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid receipt payload", http.StatusBadRequest)
		return
	}
	if payload.MessageID == "" {
		http.Error(w, "message_id is required", http.StatusBadRequest)
		return
	}
	deliveredAt := time.Now().UTC()
	if payload.DeliveredAt != "" {
		parsed, err := time.Parse(timeLayout, payload.DeliveredAt)
		if err != nil {
			http.Error(w, "invalid delivered_at", http.StatusBadRequest)
			return
		}
		deliveredAt = parsed.UTC()
	}
	if err := h.deliveries.MarkDelivered(r.Context(), payload.MessageID, deliveredAt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.reloader == nil {
		http.Error(w, "config reload not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.reloader.Reload(); err != nil {
		// The previous snapshot stays active on failure.
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.audit(r, audit.ActionConfigReload, "config", "monitoring", nil)
	writeJSON(w, map[string]string{"status": "reloaded"})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.auditor == nil {
		http.Error(w, "audit log not available", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := h.auditor.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, entries)
}

func (h *Handler) audit(r *http.Request, action, resourceType, resourceID string, metadata []byte) {
	if h.auditor == nil {
		return
	}
	entry := audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
	if entry.Actor == "" {
		entry.Actor = "anonymous"
	}
	if err := h.auditor.Log(r.Context(), entry); err != nil && h.logger != nil {
		h.logger.Printf("audit write failed action=%s resource=%s err=%v", action, resourceID, err)
	}
}

func parseTimeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339")
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
