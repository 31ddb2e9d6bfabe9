// Package api provides the HTTP adapter of the RGS.
// It decodes and validates requests, calls the game, wallet and operator
// services, and maps their typed errors to status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/auth"
	"github.com/alexbotov/slotify-rgs/internal/control"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/freespin"
	"github.com/alexbotov/slotify-rgs/internal/game"
	"github.com/alexbotov/slotify-rgs/internal/metrics"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/session"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Dependencies are the services the handlers call
type Dependencies struct {
	Store     store.Store
	Auth      *auth.Service
	Games     *game.Service
	Sessions  *session.Manager
	Ledger    *wallet.Ledger
	FreeSpins *freespin.Service
	Control   *control.Service
	Audit     *audit.Service
	RNG       *rng.Service
	Hub       *Hub
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Handler contains all HTTP handlers
type Handler struct {
	store     store.Store
	auth      *auth.Service
	games     *game.Service
	sessions  *session.Manager
	ledger    *wallet.Ledger
	freeSpins *freespin.Service
	control   *control.Service
	audit     *audit.Service
	rng       *rng.Service
	hub       *Hub
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	validator *Validator
	logger    zerolog.Logger

	adminToken     string
	allowedOrigins []string
}

// Options configure the adapter
type Options struct {
	AdminToken     string
	AllowedOrigins []string
}

// New creates a new API handler
func New(deps Dependencies, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		store:          deps.Store,
		auth:           deps.Auth,
		games:          deps.Games,
		sessions:       deps.Sessions,
		ledger:         deps.Ledger,
		freeSpins:      deps.FreeSpins,
		control:        deps.Control,
		audit:          deps.Audit,
		rng:            deps.RNG,
		hub:            deps.Hub,
		metrics:        deps.Metrics,
		gatherer:       deps.Gatherer,
		validator:      NewValidator(),
		logger:         logger.With().Str("component", "api").Logger(),
		adminToken:     opts.AdminToken,
		allowedOrigins: opts.AllowedOrigins,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondAPIError(w, status, &APIError{Code: code, Message: message})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: apiErr})
}

// errorStatus maps an engine error kind to a status and code
func errorStatus(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindInvalidBet:
		return http.StatusBadRequest, "INVALID_BET"
	case domain.KindInsufficientBalance:
		return http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"
	case domain.KindInsufficientFreeSpins:
		return http.StatusConflict, "INSUFFICIENT_FREE_SPINS"
	case domain.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case domain.KindGameUnavailable:
		return http.StatusServiceUnavailable, "GAME_UNAVAILABLE"
	case domain.KindRngUnavailable:
		return http.StatusServiceUnavailable, "RNG_UNAVAILABLE"
	case domain.KindConfiguration:
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	case domain.KindSettlementFailed:
		return http.StatusInternalServerError, "SETTLEMENT_FAILED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("code", code).
			Msg("Request failed")
		if code == "INTERNAL_ERROR" {
			message = "Internal server error"
		}
	}
	respondError(w, status, code, message)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		respondAPIError(w, http.StatusBadRequest, &APIError{
			Code:    "INVALID_REQUEST",
			Message: "Request validation failed",
			Fields:  FormatValidationError(err),
		})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def, max int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= max {
			return n
		}
	}
	return def
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "healthy"}

	if err := h.store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["database"] = err.Error()
	}
	if h.rng != nil {
		rngHealth, err := h.rng.HealthCheck()
		if err != nil || !rngHealth.Healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		body["rng_status"] = rngHealth
	}
	body["gaming_enabled"] = h.control.IsGamingEnabled()
	respondJSON(w, status, body)
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "Slotify RGS",
		"version":     "1.0.0",
		"description": "Remote Gaming Server for slots and roulette",
	})
}

// === Games ===

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.games.ListGames(r.Context())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	gameList := make([]map[string]interface{}, len(games))
	for i, g := range games {
		gameList[i] = map[string]interface{}{
			"id":      g.ID,
			"name":    g.Name,
			"type":    g.Type,
			"min_bet": g.MinBet,
			"max_bet": g.MaxBet,
			"enabled": g.Active && h.control.IsGameEnabled(g.ID),
		}
		if g.Slot != nil {
			gameList[i]["paylines"] = len(g.Slot.Paylines)
			gameList[i]["theoretical_rtp"] = g.Slot.RTP
			if g.Slot.Jackpot != nil {
				if pool, err := h.store.GetJackpot(r.Context(), g.ID); err == nil {
					gameList[i]["jackpot"] = pool
				}
			}
		}
	}
	respondJSON(w, http.StatusOK, gameList)
}

// GetGame handles GET /api/v1/games/{id}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.games.GetGameConfiguration(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// BetRequest is one roulette bet
type BetRequest struct {
	Type    domain.BetType  `json:"type" validate:"required,bet_type"`
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	Numbers []int           `json:"numbers" validate:"omitempty,max=6,dive,gte=0,lte=37"`
}

// PlayRequest is the body of a play call. Slots send bet_amount, roulette sends bets.
type PlayRequest struct {
	BetAmount      decimal.Decimal `json:"bet_amount"`
	ActivePaylines []int           `json:"active_paylines" validate:"omitempty,max=100,dive,gte=0"`
	UseFreeSpins   bool            `json:"use_free_spins"`
	Bets           []BetRequest    `json:"bets" validate:"omitempty,max=50,dive"`
}

func (p *PlayRequest) payload() *domain.BetPayload {
	out := &domain.BetPayload{
		BetAmount:      p.BetAmount,
		ActivePaylines: p.ActivePaylines,
		UseFreeSpins:   p.UseFreeSpins,
	}
	for _, b := range p.Bets {
		out.Bets = append(out.Bets, domain.RouletteBet{Type: b.Type, Amount: b.Amount, Numbers: b.Numbers})
	}
	return out
}

// Play handles POST /api/v1/games/{id}/play
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.games.PlayRound(r.Context(), mux.Vars(r)["id"], userID(r), req.payload())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetFreeSpins handles GET /api/v1/games/{id}/free-spins
func (h *Handler) GetFreeSpins(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	grants, err := h.freeSpins.Available(r.Context(), userID(r), gameID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	remaining := 0
	for i := range grants {
		remaining += grants[i].Remaining()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"game_id":   gameID,
		"remaining": remaining,
		"grants":    grants,
	})
}

// GetRound handles GET /api/v1/rounds/{id}
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	record, ok, err := h.audit.VerifyRound(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Round not found")
		return
	}
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if record.UserID != userID(r) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Round not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"round":    record,
		"verified": ok,
	})
}

// === Wallet ===

// GetBalance handles GET /api/v1/wallet/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Balance(r.Context(), userID(r))
	if errors.Is(err, wallet.ErrPlayerNotFound) {
		respondError(w, http.StatusNotFound, "PLAYER_NOT_FOUND", "Player not found")
		return
	}
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance": balance,
	})
}

// GetTransactions handles GET /api/v1/wallet/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 100)
	offset := queryInt(r, "offset", 0, 1<<20)

	transactions, err := h.ledger.Transactions(r.Context(), userID(r), limit, offset)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

// === Operator ===

// CreateUserRequest registers a player mirrored from the operator platform
type CreateUserRequest struct {
	ID       string          `json:"id" validate:"omitempty,max=64"`
	Username string          `json:"username" validate:"required,max=64"`
	Balance  decimal.Decimal `json:"balance" validate:"gte=0"`
}

// CreateUser handles POST /api/v1/admin/users and returns a player token
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := h.store.CreateUser(r.Context(), &domain.User{ID: req.ID, Username: req.Username}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respondError(w, http.StatusConflict, "USER_EXISTS", "User already exists")
			return
		}
		h.respondDomainError(w, r, err)
		return
	}
	if req.Balance.IsPositive() {
		if _, err := h.ledger.Deposit(r.Context(), req.ID, req.Balance, "opening balance"); err != nil {
			h.respondDomainError(w, r, err)
			return
		}
	}

	token, expires, err := h.auth.Issue(req.ID, req.Username)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id":    req.ID,
		"username":   req.Username,
		"token":      token,
		"expires_at": expires,
	})
}

// AmountRequest moves funds in or out of a player account
type AmountRequest struct {
	UserID    string          `json:"user_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"max=255"`
}

// Deposit handles POST /api/v1/admin/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.ledger.Deposit(r.Context(), req.UserID, req.Amount, req.Reference)
	if err != nil {
		h.respondWalletError(w, r, err)
		return
	}
	h.audit.Log(audit.EventDeposit, zerolog.InfoLevel, "Funds deposited",
		audit.WithUser(req.UserID),
		audit.WithField("transaction_id", tx.ID),
		audit.WithField("amount", tx.Amount.StringFixed(domain.MoneyScale)))
	respondJSON(w, http.StatusOK, tx)
}

// Withdraw handles POST /api/v1/admin/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.ledger.Withdraw(r.Context(), req.UserID, req.Amount, req.Reference)
	if err != nil {
		h.respondWalletError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (h *Handler) respondWalletError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, wallet.ErrPlayerNotFound):
		respondError(w, http.StatusNotFound, "PLAYER_NOT_FOUND", "Player not found")
	case errors.Is(err, wallet.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive")
	default:
		h.respondDomainError(w, r, err)
	}
}

// Reconcile handles GET /api/v1/admin/users/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Reconcile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWalletError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reconciliation": rec,
		"balanced":       rec.Balanced(),
	})
}

// GetSession handles GET /api/v1/admin/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	body := map[string]interface{}{"session": sess}
	if lifetime := h.sessions.Lifetime(); lifetime > 0 && sess.Status == domain.SessionActive {
		body["expires_at"] = sess.LastActivityAt.Add(lifetime)
	}
	respondJSON(w, http.StatusOK, body)
}

// CloseSession handles POST /api/v1/admin/sessions/{id}/close
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Close(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.logger.Info().Str("session_id", id).Str("user_id", sess.UserID).Msg("Play session closed by operator")
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// FreeSpinRequest is the body of a free-spin grant
type FreeSpinRequest struct {
	UserID   string           `json:"user_id" validate:"required"`
	Amount   int              `json:"amount" validate:"required,gt=0,lte=1000"`
	Source   string           `json:"source" validate:"required,max=64"`
	BetValue *decimal.Decimal `json:"bet_value"`
	GameID   *string          `json:"game_id"`
	// ValidFor is a Go duration string such as "72h"
	ValidFor string `json:"valid_for"`
}

// GrantFreeSpins handles POST /api/v1/admin/free-spins
func (h *Handler) GrantFreeSpins(w http.ResponseWriter, r *http.Request) {
	var req FreeSpinRequest
	if !h.decode(w, r, &req) {
		return
	}
	grantReq := freespin.GrantRequest{
		UserID:   req.UserID,
		Amount:   req.Amount,
		Source:   req.Source,
		BetValue: req.BetValue,
		GameID:   req.GameID,
	}
	if req.ValidFor != "" {
		d, err := time.ParseDuration(req.ValidFor)
		if err != nil || d < 0 {
			respondAPIError(w, http.StatusBadRequest, &APIError{
				Code:    "INVALID_REQUEST",
				Message: "Request validation failed",
				Fields:  map[string]string{"valid_for": "Invalid duration"},
			})
			return
		}
		grantReq.ValidFor = d
	}

	grant, err := h.freeSpins.Grant(r.Context(), grantReq)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.audit.Log(audit.EventFreeSpinGrant, zerolog.InfoLevel, "Free spins granted",
		audit.WithUser(req.UserID),
		audit.WithField("grant_id", grant.ID),
		audit.WithField("amount", grant.Amount),
		audit.WithField("source", grant.Source))
	respondJSON(w, http.StatusCreated, grant)
}

// ControlRequest carries the operator's reason for a state change
type ControlRequest struct {
	Reason       string `json:"reason" validate:"max=255"`
	AuthorizedBy string `json:"authorized_by" validate:"required,max=64"`
}

// DisableGame handles POST /api/v1/admin/games/{id}/disable
func (h *Handler) DisableGame(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.control.DisableGame(r.Context(), mux.Vars(r)["id"], req.Reason, req.AuthorizedBy); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// EnableGame handles POST /api/v1/admin/games/{id}/enable
func (h *Handler) EnableGame(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.control.EnableGame(r.Context(), mux.Vars(r)["id"], req.AuthorizedBy); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// DisableGaming handles POST /api/v1/admin/gaming/disable
func (h *Handler) DisableGaming(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.control.DisableAllGaming(r.Context(), req.Reason, req.AuthorizedBy)
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// EnableGaming handles POST /api/v1/admin/gaming/enable
func (h *Handler) EnableGaming(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.control.EnableAllGaming(r.Context(), req.AuthorizedBy)
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}

// GetStatus handles GET /api/v1/admin/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.control.GetSystemStatus())
}
