package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sheikh-saqib/offline-payments-sync/internal/ledger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"golang.org/x/time/rate"
)

// executeTimeout bounds a settlement that the caller stopped waiting for.
const executeTimeout = 30 * time.Second

// Executor is the transfer executor behind the HTTP API.
type Executor interface {
	CreatePending(ctx context.Context, ownerID string, in ledger.CreateTransferInput) (models.Transaction, bool, error)
	Execute(ctx context.Context, ownerID, id string) (models.Transaction, error)
	Cancel(ctx context.Context, ownerID, id string) (models.Transaction, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error)
	GetBalance(ctx context.Context, ownerID string) (models.Account, error)
	GetLedgerEntries(ctx context.Context, ownerID string) ([]models.LedgerEntry, error)
}

type Server struct {
	executor Executor
	tokens   TokenValidator
	log      *log.Logger
	limiter  *rate.Limiter
}

type Options struct {
	RateLimitRPS   float64 // zero disables rate limiting
	RateLimitBurst int
}

func NewServer(executor Executor, tokens TokenValidator, l *log.Logger, opts Options) *Server {
	s := &Server{
		executor: executor,
		tokens:   tokens,
		log:      l,
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.contextualLogger)
	if s.limiter != nil {
		r.Use(s.rateLimit(s.limiter))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/transfer", s.handleCreateTransfer)
		r.Put("/transaction/{id}/sync", s.handleSync)
		r.Post("/transaction/{id}/cancel", s.handleCancel)
		r.Get("/transactions", s.handleListTransactions)
		r.Get("/accounts/balance", s.handleGetBalance)
		r.Get("/ledgerEntries", s.handleGetLedgerEntries)
	})

	return r
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())

	var req models.CreateTransferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body", nil)
		return
	}

	tx, created, err := s.executor.CreatePending(r.Context(), ownerID, ledger.CreateTransferInput{
		ID:                  req.ID,
		RecipientIdentifier: req.RecipientIdentifier,
		Amount:              req.Amount,
		Note:                req.Note,
	})
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, tx)
}

// handleSync executes the transfer. The execution is detached from the
// request so a client that stops waiting cannot interrupt it midway.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "transaction not found", nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), executeTimeout)
	defer cancel()

	tx, err := s.executor.Execute(ctx, ownerID, id)
	if err != nil {
		s.writeLedgerError(w, r, err, &tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "transaction not found", nil)
		return
	}

	tx, err := s.executor.Cancel(r.Context(), ownerID, id)
	if err != nil {
		s.writeLedgerError(w, r, err, &tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())

	limit, err := queryInt(r, "limit", ledger.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, err.Error(), nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, err.Error(), nil)
		return
	}

	txs, err := s.executor.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())

	account, err := s.executor.GetBalance(r.Context(), ownerID)
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceResponse{
		OwnerID:  account.OwnerID,
		Balance:  account.Balance,
		Currency: account.Currency,
	})
}

func (s *Server) handleGetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := ownerIDFromContext(r.Context())

	entries, err := s.executor.GetLedgerEntries(r.Context(), ownerID)
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return value, nil
}

// writeLedgerError maps executor errors to status codes. current is attached
// to not-eligible answers so callers learn the record's present state.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error, current *models.Transaction) {
	switch {
	case errors.Is(err, models.ErrNotEligible):
		if current != nil && current.ID == "" {
			current = nil
		}
		writeError(w, http.StatusBadRequest, models.CodeNotEligible, err.Error(), current)
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, models.CodeValidation, err.Error(), nil)
	case errors.Is(err, models.ErrRecipientNotFound):
		writeError(w, http.StatusNotFound, models.CodeRecipientNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrSenderNotFound):
		writeError(w, http.StatusNotFound, models.CodeSenderNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, models.CodeNotFound, err.Error(), nil)
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, models.CodeInternal, "internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, current *models.Transaction) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code, Transaction: current})
}
