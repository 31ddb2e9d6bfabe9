package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates the HTTP router. CORS wraps the router so preflight
// requests are answered before route matching. Responses are gzip-compressed
// when the client accepts it.
func (h *Handler) SetupRouter() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	r.Use(h.RecoveryMiddleware)
	r.Use(h.ObserveMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Player routes
	player := api.PathPrefix("").Subrouter()
	player.Use(h.AuthMiddleware)

	player.HandleFunc("/games", h.GetGames).Methods("GET")
	player.HandleFunc("/games/{id}", h.GetGame).Methods("GET")
	player.HandleFunc("/games/{id}/play", h.Play).Methods("POST")
	player.HandleFunc("/games/{id}/free-spins", h.GetFreeSpins).Methods("GET")

	player.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	player.HandleFunc("/wallet/transactions", h.GetTransactions).Methods("GET")

	player.HandleFunc("/rounds/{id}", h.GetRound).Methods("GET")

	player.HandleFunc("/ws/rounds", h.HandleWebSocket).Methods("GET")

	// Operator routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.AdminMiddleware)

	admin.HandleFunc("/users", h.CreateUser).Methods("POST")
	admin.HandleFunc("/users/{id}/reconcile", h.Reconcile).Methods("GET")
	admin.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	admin.HandleFunc("/sessions/{id}/close", h.CloseSession).Methods("POST")
	admin.HandleFunc("/deposit", h.Deposit).Methods("POST")
	admin.HandleFunc("/withdraw", h.Withdraw).Methods("POST")
	admin.HandleFunc("/free-spins", h.GrantFreeSpins).Methods("POST")
	admin.HandleFunc("/games/{id}/disable", h.DisableGame).Methods("POST")
	admin.HandleFunc("/games/{id}/enable", h.EnableGame).Methods("POST")
	admin.HandleFunc("/gaming/disable", h.DisableGaming).Methods("POST")
	admin.HandleFunc("/gaming/enable", h.EnableGaming).Methods("POST")
	admin.HandleFunc("/status", h.GetStatus).Methods("GET")

	return gzhttp.GzipHandler(h.CORSMiddleware(r))
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
