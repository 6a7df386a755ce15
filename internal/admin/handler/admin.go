package handler

import (
	"allotment/internal/allocation/service"
	"allotment/internal/reconcile"
	slotservice "allotment/internal/slots/service"
	apperrors "allotment/pkg/errors"
	httputil "allotment/pkg/http"
	kafkamw "allotment/pkg/kafka/middleware"
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"allotment/pkg/sanitizer"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

type Sweeper interface {
	SweepOnce(ctx context.Context) (reconcile.SweepResult, error)
	LastResult() (reconcile.SweepResult, bool)
}

type EventStats interface {
	Snapshot() kafkamw.MetricsSnapshot
}

type Presence interface {
	Count() int
}

type CreateResourceRequest struct {
	ID                   string    `json:"id"`
	Kind                 string    `json:"kind"`
	Capacity             int       `json:"capacity"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
	// HoldDuration is a Go duration string ("15m"). Empty uses the daemon default.
	HoldDuration *string `json:"hold_duration,omitempty"`
}

type CreateSlotRequest struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type StatsResponse struct {
	LastSweep      *reconcile.SweepResult   `json:"last_sweep,omitempty"`
	Events         *kafkamw.MetricsSnapshot `json:"events,omitempty"`
	OnlineSessions int                      `json:"online_sessions"`
}

type AdminHandler struct {
	ledger      service.LedgerService
	waitlist    service.WaitlistService
	slots       slotservice.SlotService
	sweeper     Sweeper
	events      EventStats
	presence    Presence
	defaultHold time.Duration
	log         *logger.Logger
}

type Option func(*AdminHandler)

func WithEventStats(s EventStats) Option {
	return func(h *AdminHandler) { h.events = s }
}

func WithPresence(p Presence) Option {
	return func(h *AdminHandler) { h.presence = p }
}

func NewAdminHandler(
	ledger service.LedgerService,
	waitlist service.WaitlistService,
	slots slotservice.SlotService,
	sweeper Sweeper,
	defaultHold time.Duration,
	log *logger.Logger,
	opts ...Option,
) *AdminHandler {
	h := &AdminHandler{
		ledger:      ledger,
		waitlist:    waitlist,
		slots:       slots,
		sweeper:     sweeper,
		defaultHold: defaultHold,
		log:         log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *AdminHandler) CreateResource(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "CreateResource", apperrors.InvalidInput("Invalid request body"))
		return
	}

	hold := h.defaultHold
	if req.HoldDuration != nil {
		d, err := time.ParseDuration(*req.HoldDuration)
		if err != nil {
			h.writeError(w, "CreateResource", apperrors.InvalidInput("hold_duration must be a duration such as 15m or 0s"))
			return
		}
		hold = d
	}

	resource := &model.Resource{
		ID:                   sanitizer.NormalizeIdentifier(req.ID),
		Kind:                 sanitizer.NormalizeLabel(req.Kind),
		Capacity:             req.Capacity,
		RegistrationDeadline: req.RegistrationDeadline,
		HoldDuration:         hold,
	}
	if err := h.ledger.CreateResource(r.Context(), resource); err != nil {
		h.writeError(w, "CreateResource", err)
		return
	}

	if err := httputil.WriteCreated(w, resource); err != nil {
		h.log.Error("failed to write created response", "handler", "CreateResource", "operation", "WriteCreated", "error", err)
	}
}

func (h *AdminHandler) GetResource(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, err := h.ledger.Snapshot(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetResource", err)
		return
	}

	if err := httputil.WriteSuccess(w, snap); err != nil {
		h.log.Error("failed to write success response", "handler", "GetResource", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdminHandler) GetPosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pos, err := h.waitlist.Position(r.Context(), ps.ByName("id"), ps.ByName("claimant"))
	if err != nil {
		h.writeError(w, "GetPosition", err)
		return
	}

	if err := httputil.WriteSuccess(w, pos); err != nil {
		h.log.Error("failed to write success response", "handler", "GetPosition", "operation", "WriteSuccess", "error", err)
	}
}

// Promote offers units of capacity to the queue by hand, e.g. after an
// operator fixed a stuck resource. Defaults to one unit.
func (h *AdminHandler) Promote(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	units := 1
	if s := r.URL.Query().Get("units"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, "Promote", apperrors.InvalidInput("invalid units parameter: "+s))
			return
		}
		units = n
	}

	promoted, err := h.waitlist.Promote(r.Context(), ps.ByName("id"), units)
	if err != nil {
		h.writeError(w, "Promote", err)
		return
	}

	if err := httputil.WriteSuccess(w, map[string]int{"promoted": promoted}); err != nil {
		h.log.Error("failed to write success response", "handler", "Promote", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		h.writeError(w, "Sweep", apperrors.Internal("Sweep failed", err))
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Sweep", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var resp StatsResponse
	if last, ok := h.sweeper.LastResult(); ok {
		resp.LastSweep = &last
	}
	if h.events != nil {
		snap := h.events.Snapshot()
		resp.Events = &snap
	}
	if h.presence != nil {
		resp.OnlineSessions = h.presence.Count()
	}

	if err := httputil.WriteSuccess(w, resp); err != nil {
		h.log.Error("failed to write success response", "handler", "Stats", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdminHandler) CreateSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "CreateSlot", apperrors.InvalidInput("Invalid request body"))
		return
	}

	slot := &model.Slot{
		ID:        sanitizer.NormalizeIdentifier(req.ID),
		TeamID:    ps.ByName("team"),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := h.slots.CreateSlot(r.Context(), slot); err != nil {
		h.writeError(w, "CreateSlot", err)
		return
	}

	if err := httputil.WriteCreated(w, slot); err != nil {
		h.log.Error("failed to write created response", "handler", "CreateSlot", "operation", "WriteCreated", "error", err)
	}
}

func (h *AdminHandler) ListSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slots, err := h.slots.ListByTeam(r.Context(), ps.ByName("team"))
	if err != nil {
		h.writeError(w, "ListSlots", err)
		return
	}

	if err := httputil.WriteSuccess(w, slots); err != nil {
		h.log.Error("failed to write success response", "handler", "ListSlots", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *AdminHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/admin/resources", h.CreateResource)
	router.GET("/admin/resources/:id", h.GetResource)
	router.POST("/admin/resources/:id/promote", h.Promote)
	router.GET("/admin/resources/:id/waitlist/:claimant", h.GetPosition)
	router.POST("/admin/sweep", h.Sweep)
	router.GET("/admin/stats", h.Stats)
	router.POST("/admin/teams/:team/slots", h.CreateSlot)
	router.GET("/admin/teams/:team/slots", h.ListSlots)
}
