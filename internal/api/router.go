package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medagenda/scheduling-core/internal/payment"
	"github.com/medagenda/scheduling-core/internal/scheduling"
)

type RouterConfig struct {
	Service  *scheduling.Service
	Queries  *scheduling.QueryService
	Store    scheduling.Store
	Payments *payment.Handler
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside actor resolution.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		// Slots
		r.Post("/slots", createSlotHandler(cfg.Service))
		r.Delete("/slots/{id}", deleteSlotHandler(cfg.Service))
		r.Get("/doctors/{doctorID}/slots", listAvailableSlotsHandler(cfg.Queries))
		r.Get("/doctors/{doctorID}/agenda", doctorAgendaHandler(cfg.Queries))

		// Payment bridge
		r.Post("/payments/intent", createPaymentIntentHandler(cfg.Payments))
		r.Post("/payments/confirm", confirmPaymentHandler(cfg.Payments))

		// Appointments
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Store))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Service))
		r.Get("/me/appointments", myAppointmentsHandler(cfg.Queries))
		r.Get("/me/history", patientHistoryHandler(cfg.Queries))
		r.Get("/doctor/appointments", doctorAppointmentsHandler(cfg.Queries))
		r.Get("/patients/{patientID}/record", patientRecordHandler(cfg.Queries))

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(RequireElevated)
			r.Get("/admin/appointments", searchAppointmentsHandler(cfg.Queries))
			r.Get("/admin/payments", paymentHistoryHandler(cfg.Queries))
			r.Get("/admin/summary", statusSummaryHandler(cfg.Queries))
		})
	})

	return r
}
