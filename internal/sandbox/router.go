package sandbox

import (
	"net/http"

	"github.com/alexbotov/mpesa/pkg/mpesa"
	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/public-key", h.PublicKey).Methods("GET")

	// Gateway
	r.HandleFunc(mpesa.DefaultB2CPath, h.B2CPayment).Methods("POST")

	// Operator routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.AdminMiddleware)
	admin.HandleFunc("/disbursements", h.ListDisbursements).Methods("GET")
	admin.HandleFunc("/tokens", h.IssueToken).Methods("POST")
	admin.HandleFunc("/status", h.GatewayStatus).Methods("GET")
	admin.HandleFunc("/overload", h.SetOverload).Methods("POST")

	// Live event feed
	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(h.AdminMiddleware)
	ws.HandleFunc("/events", h.Events).Methods("GET")

	// Preflight for every path
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
