package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ch3fx/internal/auth"
	"ch3fx/internal/exchange"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type contextKey string

const userContextKey contextKey = "user"

// UserHeader carries the caller's chat user ID.
const UserHeader = "X-User-ID"

type UserContext struct {
	UserID string
	Admin  bool
}

// Streamer hands out event subscriptions for the websocket stream.
type Streamer interface {
	Subscribe() (<-chan []byte, func())
}

type Server struct {
	log      *slog.Logger
	allow    *auth.AllowList
	exchange *exchange.Service
	stream   Streamer
	mux      *chi.Mux
	now      func() time.Time

	streamCtx  context.Context
	stopStream context.CancelFunc
}

func New(logger *slog.Logger, allow *auth.AllowList, svc *exchange.Service, stream Streamer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:        logger,
		allow:      allow,
		exchange:   svc,
		stream:     stream,
		mux:        chi.NewRouter(),
		now:        time.Now,
		streamCtx:  ctx,
		stopStream: cancel,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close ends every open websocket stream. http.Server.Shutdown does not touch
// hijacked connections.
func (s *Server) Close() {
	s.stopStream()
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		if s.stream != nil {
			r.Get("/stream", s.handleStream)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/market", s.handleMarket)
			r.Get("/stocks", s.handleStocksList)
			r.Get("/stocks/top", s.handleTopPerformers)
			r.Get("/stocks/decay-risk", s.handleDecayRisk)
			r.Get("/stocks/{symbol}", s.handleStockDetail)
			r.Post("/stocks", s.handleIPO)
			r.Post("/stocks/rebrand", s.handleRebrand)
			r.Post("/stocks/{symbol}/buy", s.handleBuy)
			r.Post("/stocks/{symbol}/sell", s.handleSell)

			r.Get("/account", s.handleAccount)
			r.Get("/accounts/{user_id}", s.handleAccountOf)
			r.Post("/bank/deposit", s.handleDeposit)
			r.Post("/bank/withdraw", s.handleWithdraw)
			r.Post("/daily", s.handleDaily)
			r.Post("/gift", s.handleGift)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Post("/tick", s.handleAdminTick)
				r.Post("/dividends", s.handleAdminDividends)
				r.Post("/decay", s.handleAdminDecay)
				r.Post("/sweep", s.handleAdminSweep)
				r.Post("/regime", s.handleAdminRegime)
				r.Post("/stocks", s.handleAdminList)
				r.Post("/stocks/{symbol}/rename", s.handleAdminRename)
				r.Post("/stocks/{symbol}/price", s.handleAdminPrice)
				r.Delete("/stocks/{symbol}", s.handleAdminRemove)
				r.Post("/balance", s.handleAdminBalance)
				r.Post("/award-all", s.handleAdminAwardAll)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allow.TokenRequired() {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if !s.allow.VerifyToken(token) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: userID,
			Admin:  s.allow.IsAdmin(userID),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !user.Admin {
			s.log.Warn("admin route refused", "user_id", user.UserID, "path", r.URL.Path)
			writeDomainError(w, exchange.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.MarketSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStocksList(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.Stocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("history") != "1" {
		for i := range out {
			out[i].History = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (s *Server) handleTopPerformers(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "day"
	}
	limit, err := queryInt(r, "limit", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.TopPerformers(r.Context(), timeframe, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": timeframe, "performers": out})
}

func (s *Server) handleDecayRisk(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.DecayRisk(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"at_risk": out})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.StockInfo(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIPO(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.CreateStock(r.Context(), user.UserID, in.Symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleRebrand(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.RebrandStock(r.Context(), user.UserID, in.Symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.exchange.Buy(r.Context(), chi.URLParam(r, "symbol"), user.UserID, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.exchange.Sell(r.Context(), chi.URLParam(r, "symbol"), user.UserID, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.writePortfolio(w, r, user.UserID)
}

func (s *Server) handleAccountOf(w http.ResponseWriter, r *http.Request) {
	s.writePortfolio(w, r, chi.URLParam(r, "user_id"))
}

func (s *Server) writePortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	out, err := s.exchange.Portfolio(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type amountInput struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleBankMove(w, r, s.exchange.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBankMove(w, r, s.exchange.Withdraw)
}

func (s *Server) handleBankMove(w http.ResponseWriter, r *http.Request, move func(context.Context, string, decimal.Decimal) (exchange.Account, error)) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := move(r.Context(), user.UserID, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.exchange.ClaimDaily(r.Context(), user.UserID, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGift(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.Gift(r.Context(), user.UserID, strings.TrimSpace(in.To), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleAdminTick(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.Tick(r.Context(), s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminDividends(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.DistributeDividends(r.Context(), s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminDecay(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.ApplyDecay(r.Context(), s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": out})
}

func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	out, err := s.exchange.EmergencySweep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bankruptcies": out})
}

func (s *Server) handleAdminRegime(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Regime string `json:"regime"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	regime, err := exchange.ParseRegime(in.Regime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.exchange.ForceRegime(r.Context(), regime, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol  string           `json:"symbol"`
		Creator string           `json:"creator"`
		Price   *decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.ListStock(r.Context(), in.Symbol, strings.TrimSpace(in.Creator), in.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAdminRename(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.exchange.RenameStock(r.Context(), chi.URLParam(r, "symbol"), in.Symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAdminPrice accepts either a delta or an absolute value, not both.
func (s *Server) handleAdminPrice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Delta *decimal.Decimal `json:"delta"`
		Value *decimal.Decimal `json:"value"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := chi.URLParam(r, "symbol")
	var (
		out exchange.Stock
		err error
	)
	switch {
	case in.Delta != nil && in.Value == nil:
		out, err = s.exchange.AdjustPrice(r.Context(), symbol, *in.Delta)
	case in.Value != nil && in.Delta == nil:
		out, err = s.exchange.SetPrice(r.Context(), symbol, *in.Value)
	default:
		writeError(w, http.StatusBadRequest, "exactly one of delta or value is required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminRemove(w http.ResponseWriter, r *http.Request) {
	symbol := exchange.NormalizeSymbol(chi.URLParam(r, "symbol"))
	out, err := s.exchange.Bankrupt(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "losses": out})
}

func (s *Server) handleAdminBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string          `json:"user_id"`
		Delta  decimal.Decimal `json:"delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	out, err := s.exchange.AdjustBalance(r.Context(), strings.TrimSpace(in.UserID), in.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminAwardAll(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.exchange.AwardAll(r.Context(), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": n, "amount": in.Amount})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownSymbol), errors.Is(err, exchange.ErrNoStock):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exchange.ErrDuplicateSymbol), errors.Is(err, exchange.ErrDuplicateCreator),
		errors.Is(err, exchange.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, exchange.ErrInsufficientFunds), errors.Is(err, exchange.ErrInsufficientShares):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, exchange.ErrInvalidSymbol), errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrNonPositiveResult), errors.Is(err, exchange.ErrUnknownRegime),
		errors.Is(err, exchange.ErrInvalidTimeframe):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, exchange.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, exchange.ErrStoreIO):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(key + " must be a positive integer")
	}
	return v, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
