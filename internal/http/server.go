package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"fundledger/internal/auth"
	"fundledger/internal/bus"
	"fundledger/internal/cache"
	"fundledger/internal/core"
	"fundledger/internal/ledger"
	applog "fundledger/internal/log"
	"fundledger/internal/middleware/ratelimit"
	"fundledger/internal/middleware/security"
	"fundledger/internal/middleware/trace"
	"fundledger/internal/services"
	"fundledger/internal/store"
)

const ledgerCacheKey = "ledger"

// Deps are the collaborators the API is served from.
type Deps struct {
	Users         *services.UserService
	Transactions  *services.TransactionService
	Expenses      *services.ExpenseService
	Assistance    *services.AssistanceService
	Notifications *services.NotificationService
	Reconcile     *services.ReconcileProcessor
	Ledger        *ledger.Ledger

	Store  store.Store // readiness probe
	Bus    *bus.Bus
	Issuer *auth.Issuer
	Login  *auth.Login
	Logger *applog.Logger

	// RateLimit is the number of write requests allowed per client per minute.
	RateLimit int
}

type Server struct {
	http.Server

	deps     Deps
	bus      *bus.Bus
	detector *security.Detector
	tracer   *trace.Middleware
	limiter  *ratelimit.Limiter

	ledgerCache  *cache.LRUCache[ledgerView]
	cacheManager *cache.Manager
	unsubscribe  func()

	baseCtx      context.Context
	cancelBase   context.CancelFunc
	shutdownOnce sync.Once
}

func NewServer(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = applog.New(applog.DefaultConfig())
	}
	b := d.Bus
	if b == nil {
		b = bus.New()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:         d,
		bus:          b,
		detector:     security.NewDetector(),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: d.RateLimit}),
		ledgerCache:  cache.NewLRUCache[ledgerView](1, 30*time.Second),
		cacheManager: cache.NewManager(),
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	s.cacheManager.Register(s.ledgerCache)
	s.cacheManager.StartCleanup(time.Minute)
	s.unsubscribe = b.Subscribe(s.invalidateLedger, core.KindLedger)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	member := func(h http.HandlerFunc) http.Handler {
		return s.deps.Issuer.Middleware(writeError)(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return member(auth.RequireRole(core.RoleAdmin, writeError)(h).ServeHTTP)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.Handle("GET /ledger", member(s.handleLedger))
	mux.Handle("GET /ledger/events", member(s.handleLedgerEvents))
	mux.Handle("POST /reconcile", admin(s.handleReconcile))
	mux.Handle("GET /metrics", admin(s.handleMetrics))

	mux.Handle("GET /users/me", member(s.handleMe))
	mux.Handle("GET /users", admin(s.handleListUsers))
	mux.Handle("PATCH /users/{id}/status", admin(s.handleSetUserStatus))
	mux.Handle("DELETE /users/{id}", admin(s.handleDeleteUser))

	mux.Handle("POST /transactions", member(s.handleSubmitTransaction))
	mux.Handle("GET /transactions", member(s.handleListTransactions))
	mux.Handle("GET /transactions/{id}", member(s.handleGetTransaction))
	mux.Handle("POST /transactions/manual", admin(s.handleManualTransaction))
	mux.Handle("POST /transactions/{id}/approve", admin(s.handleApprove))
	mux.Handle("POST /transactions/{id}/reject", admin(s.handleReject))

	mux.Handle("POST /expenses", admin(s.handleAddExpense))
	mux.Handle("GET /expenses", admin(s.handleListExpenses))
	mux.Handle("GET /expenses/{id}", admin(s.handleGetExpense))
	mux.Handle("DELETE /expenses/{id}", admin(s.handleDeleteExpense))

	mux.Handle("POST /assistance", member(s.handleSubmitAssistance))
	mux.Handle("GET /assistance", member(s.handleListAssistance))
	mux.Handle("GET /assistance/{id}", member(s.handleGetAssistance))
	mux.Handle("PATCH /assistance/{id}", admin(s.handleSetAssistanceStatus))

	mux.Handle("GET /notifications", member(s.handleListNotifications))
	mux.Handle("POST /notifications", admin(s.handleSendNotification))
	mux.Handle("POST /notifications/{id}/read", member(s.handleMarkRead))

	// Outermost first.
	var h http.Handler = mux
	h = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = applog.Middleware(s.deps.Logger)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.WritesOnly, writeTooManyRequests)(h)
	h = s.tracer.Middleware(h)
	return h
}

// Shutdown stops background work and drains the listener. Streaming
// handlers are released by cancelling their base context.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cancelBase()
		s.unsubscribe()
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns a snapshot of the request and rate limit counters.
func (s *Server) Metrics() metricsView {
	req, rl := s.tracer.GetMetrics(), s.limiter.GetMetrics()
	return metricsView{
		Requests:         req.TotalRequests,
		ServerErrors:     req.ServerErrors,
		LastDurationUs:   req.LastDurationUs,
		RateLimited:      rl.Rejected,
		RateLimitClients: rl.ClientCount,
	}
}

func (s *Server) invalidateLedger() {
	s.ledgerCache.Purge()
}

// loadLedger serves GET /ledger from the cache.
func (s *Server) loadLedger(ctx context.Context) (ledgerView, error) {
	return s.ledgerCache.GetOrLoad(ledgerCacheKey, func() (ledgerView, error) {
		return s.readLedger(ctx)
	})
}

// readLedger always reads the store. The event stream uses it directly
// since its change signal may arrive before the cache is purged.
func (s *Server) readLedger(ctx context.Context) (ledgerView, error) {
	t, err := s.deps.Ledger.ReadTotals(ctx)
	if err != nil {
		return ledgerView{}, err
	}
	return toLedgerView(t), nil
}
