// Package server wires the HTTP API: stores, decision engine, middleware,
// and routes.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/iprofit-labs/refpay/internal/approval"
	"github.com/iprofit-labs/refpay/internal/config"
	"github.com/iprofit-labs/refpay/internal/health"
	"github.com/iprofit-labs/refpay/internal/idgen"
	"github.com/iprofit-labs/refpay/internal/ledger"
	"github.com/iprofit-labs/refpay/internal/logging"
	"github.com/iprofit-labs/refpay/internal/metrics"
	"github.com/iprofit-labs/refpay/internal/ratelimit"
	"github.com/iprofit-labs/refpay/internal/realtime"
	"github.com/iprofit-labs/refpay/internal/referral"
	"github.com/iprofit-labs/refpay/internal/security"
	"github.com/iprofit-labs/refpay/internal/txn"
	"github.com/iprofit-labs/refpay/internal/user"
	"github.com/iprofit-labs/refpay/internal/validation"
)

// Server is the refpay HTTP service.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	http    *http.Server
	db      *sql.DB // nil in demo mode
	hub     *realtime.Hub
	limiter *ratelimit.Limiter
	health  *health.Registry
	engine  *approval.Engine
}

// New builds a fully wired server. With DATABASE_URL set, state lives in
// PostgreSQL; otherwise everything runs on in-memory stores (demo mode).
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     realtime.NewHub(logger),
		limiter: ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimitRPM}),
		health:  health.NewRegistry(),
	}

	var (
		profiles  user.Store
		referrals referral.Store
		books     ledger.Store
		txns      txn.Beginner
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}

		userStore := user.NewPostgresStore(db)
		referralStore := referral.NewPostgresStore(db)
		ledgerStore := ledger.NewPostgresStore(db)
		for _, migrate := range []func(context.Context) error{
			userStore.Migrate, referralStore.Migrate, ledgerStore.Migrate,
		} {
			if err := migrate(context.Background()); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		s.db = db
		profiles = userStore
		referrals = referralStore
		books = ledgerStore
		txns = &txn.SQLBeginner{DB: db}
		metrics.RegisterDBStats(db)
		logger.Info("using postgres storage")
	} else {
		profiles = user.NewMemoryStore()
		referrals = referral.NewMemoryStore()
		books = ledger.NewMemoryStore()
		txns = &txn.MemoryBeginner{}
		logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
	}

	s.engine = approval.NewEngine(approval.EngineConfig{
		Referrals:  referrals,
		Profiles:   profiles,
		Ledger:     books,
		Txns:       txns,
		Aggregator: security.NewAggregator(nil, nil),
		Policy:     policyAdapter{cfg: cfg},
		Events:     realtime.OutcomeSink{Hub: s.hub},
	})

	s.registerHealthChecks()
	s.buildRouter(
		user.NewHandlers(profiles),
		referral.NewHandlers(referral.NewService(referrals, profiles)),
		ledger.NewHandlers(books),
		approval.NewHandlers(s.engine),
	)
	return s, nil
}

func (s *Server) registerHealthChecks() {
	s.health.Register("storage", func(ctx context.Context) health.Status {
		if s.db == nil {
			return health.Status{Name: "storage", Healthy: true, Detail: "in-memory"}
		}
		if err := s.db.PingContext(ctx); err != nil {
			return health.Status{Name: "storage", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "storage", Healthy: true, Detail: "postgres"}
	})
	s.health.Register("realtime", func(ctx context.Context) health.Status {
		return health.Status{Name: "realtime", Healthy: true}
	})
}

func (s *Server) buildRouter(
	users *user.Handlers,
	referrals *referral.Handlers,
	books *ledger.Handlers,
	evaluations *approval.Handlers,
) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestContext())
	r.Use(s.requestLog())
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		healthy, statuses := s.health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"healthy": healthy, "checks": statuses})
	})
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		healthy, _ := s.health.CheckAll(c.Request.Context())
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := r.Group("/v1")
	v1.Use(
		s.limiter.Middleware(),
		validation.RequestSizeMiddleware(validation.MaxRequestSize),
		validation.IDParamMiddleware(),
	)
	users.RegisterRoutes(v1)
	referrals.RegisterRoutes(v1)
	books.RegisterRoutes(v1)
	evaluations.RegisterRoutes(v1)

	admin := v1.Group("/admin")
	admin.Use(s.adminAuth())
	referrals.RegisterAdminRoutes(admin)
	admin.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"realtime": s.hub.Stats()})
	})

	s.router = r
}

// requestContext assigns a request ID and a request-scoped logger.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = idgen.Hex(8)
		}
		c.Header("X-Request-ID", reqID)

		ctx := logging.WithRequestID(c.Request.Context(), reqID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/health/live" || c.FullPath() == "/metrics" {
			return
		}
		logging.L(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// adminAuth guards review routes with a shared secret. In development an
// unset secret leaves the routes open for local testing; config.Validate
// refuses to start production without one.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" && !s.cfg.IsProduction() {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin credentials",
			})
			return
		}
		c.Next()
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	s.http = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	stopHub()
	s.limiter.Stop()
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Engine exposes the decision engine for background jobs.
func (s *Server) Engine() *approval.Engine {
	return s.engine
}

// policyAdapter re-reads the environment policy each evaluation so operators
// can tune thresholds without a restart.
type policyAdapter struct {
	cfg *config.Config
}

func (p policyAdapter) CheckPolicy() security.Config {
	ap := p.cfg.AutoApproval()
	return security.Config{
		EnableIPCheck:         ap.EnableIPCheck,
		EnableDeviceCheck:     ap.EnableDeviceCheck,
		EnableBehavioralCheck: ap.EnableBehavioralCheck,
		EnableVPNCheck:        ap.EnableVPNCheck,
		EnableTimingCheck:     ap.EnableTimingCheck,
		MaxRiskScore:          ap.MaxRiskScore,
		MinAccountAgeDays:     ap.MinAccountAgeDays,
		MaxSameIPReferrals:    ap.MaxSameIPReferrals,
		MaxDailyReferrals:     ap.MaxDailyReferrals,
		RequireKYC:            ap.RequireKYC,
		RequireEmailVerified:  ap.RequireEmailVerified,
		RequirePhoneVerified:  ap.RequirePhoneVerified,
	}
}
