package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/metrics"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/onemorebsmith/contribution-ledger/src/session"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

var errBadRequest = errors.New("bad request")

// RecentSource lists the latest committed contributions
type RecentSource interface {
	Recent(ctx context.Context, limit int64) ([]*model.Contribution, error)
}

type Server struct {
	ledger   *ledger.Ledger
	resolver session.Resolver
	recent   RecentSource
	logger   *zap.Logger
	router   chi.Router
}

// New builds the router. recent may be nil, in which case the recent listing is not served.
func New(l *ledger.Ledger, resolver session.Resolver, recent RecentSource, logger *zap.Logger) *Server {
	s := &Server{
		ledger:   l,
		resolver: resolver,
		recent:   recent,
		logger:   logger.Named("api"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/ledger", func(lr chi.Router) {
		lr.Get("/terms", s.getTerms)
		lr.Get("/totals", s.getTotals)
		if s.recent != nil {
			lr.Get("/contributions/recent", s.getRecent)
		}
		lr.Get("/contributions/{identity}", s.getContribution)
		lr.Get("/balances/{identity}", s.getTokenBalance)
		lr.Get("/entries/{identity}", s.getEntry)
		lr.Post("/contribute", s.contribute)
		lr.Post("/withdraw", s.withdraw)
		lr.Post("/withdrawals/retry", s.retryWithdrawals)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, ledger.ErrWrongPaymentAmount), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, ledger.Code(err)
	case errors.Is(err, ledger.ErrIdentityUnresolved):
		return http.StatusUnauthorized, ledger.Code(err)
	case errors.Is(err, ledger.ErrNotOperator):
		return http.StatusForbidden, ledger.Code(err)
	case errors.Is(err, ledger.ErrSupplyExceeded), errors.Is(err, ledger.ErrInsufficientCustody):
		return http.StatusConflict, ledger.Code(err)
	default:
		return http.StatusInternalServerError, ledger.Code(err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func pathIdentity(r *http.Request) (model.Identity, error) {
	id, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		return model.Identity{}, errors.Wrap(errBadRequest, err.Error())
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "invalid payload: %s", err)
	}
	return nil
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getTerms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewTermsResponse(s.ledger.Terms(), s.ledger.Operator()))
}

func (s *Server) getTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewTotalsResponse(s.ledger.Totals()))
}

func (s *Server) getContribution(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContributionResponse{
		Identity:     id.Hex(),
		Contribution: s.ledger.GetContribution(id).Dec(),
	})
}

func (s *Server) getTokenBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Identity:     id.Hex(),
		TokenBalance: s.ledger.GetTokenBalance(id).Dec(),
	})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEntryResponse(s.ledger.Entry(id)))
}

func (s *Server) getRecent(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultRecentLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, errors.Wrapf(errBadRequest, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	recent, err := s.recent.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]RecentContribution, 0, len(recent))
	for _, c := range recent {
		out = append(out, RecentContribution{
			Id:        c.Id.String(),
			Identity:  c.Identity.Hex(),
			Payment:   c.Payment.Dec(),
			Reward:    c.Reward.Dec(),
			Committed: c.Committed,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) contribute(w http.ResponseWriter, r *http.Request) {
	caller, err := s.resolver.Resolve(r)
	if err != nil {
		metrics.RecordRejection("contribute", ledger.Code(err))
		s.writeError(w, r, err)
		return
	}
	req := ContributeRequest{}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payment, err := model.ParseAmount(req.Value)
	if err != nil {
		s.writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	entry, err := s.ledger.Contribute(r.Context(), caller, payment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEntryResponse(entry))
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := s.resolver.Resolve(r)
	if err != nil {
		metrics.RecordRejection("withdraw", ledger.Code(err))
		s.writeError(w, r, err)
		return
	}
	req := WithdrawRequest{}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := model.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	withdrawal, err := s.ledger.Withdraw(r.Context(), caller, amount)
	if err != nil {
		if withdrawal != nil {
			// custody is already debited, report the recorded withdrawal alongside the failure
			s.logger.Error("withdrawal payout failed", zap.Stringer("id", withdrawal.Id), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, NewWithdrawalResponse(withdrawal))
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewWithdrawalResponse(withdrawal))
}

func (s *Server) retryWithdrawals(w http.ResponseWriter, r *http.Request) {
	caller, err := s.resolver.Resolve(r)
	if err != nil {
		metrics.RecordRejection("retry_withdrawals", ledger.Code(err))
		s.writeError(w, r, err)
		return
	}
	req := RetryRequest{}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	retried, err := s.ledger.RetryWithdrawals(r.Context(), caller, req.IncludePending)
	if err != nil && retried == nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]WithdrawalResponse, 0, len(retried))
	for _, wd := range retried {
		out = append(out, NewWithdrawalResponse(wd))
	}
	status := http.StatusOK
	if err != nil {
		// some payouts failed again, their status in the body says which
		s.logger.Error("withdrawal retry incomplete", zap.Error(err))
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}
