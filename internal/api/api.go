package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/IlyasAtabaev731/p2p-market/internal/config"
	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/metrics"
	"github.com/IlyasAtabaev731/p2p-market/internal/relay"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/auth"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/catalog"
)

type Authenticator interface {
	Register(ctx context.Context, username, password string) (models.User, error)
	Authenticate(ctx context.Context, username, password string) (string, models.Session, error)
	Resolve(ctx context.Context, token string) (auth.Principal, error)
	Logout(ctx context.Context, p auth.Principal) error
}

type Users interface {
	Profile(ctx context.Context, id string) (models.User, error)
	UpdateBio(ctx context.Context, userID, bio string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Recipients(ctx context.Context, userID string) ([]models.PublicUser, error)
	SetBlocked(ctx context.Context, actorID, targetID string, blocked bool) error
	SetAdmin(ctx context.Context, actorID, targetID string, isAdmin bool) error
}

type Catalog interface {
	Create(ctx context.Context, sellerID string, in catalog.NewProduct) (models.Product, error)
	Get(ctx context.Context, id string, asAdmin bool) (models.Product, error)
	List(ctx context.Context, asAdmin bool) ([]models.Product, error)
	Search(ctx context.Context, query string) ([]models.Product, error)
	SetBlocked(ctx context.Context, actorID, id string, blocked bool) error
}

type Reports interface {
	Create(ctx context.Context, reporterID, targetID, reason string) (models.Report, error)
	List(ctx context.Context) ([]models.Report, error)
}

type Ledger interface {
	Transfer(ctx context.Context, fromID, toID string, amount int64) (models.Transaction, error)
	Issue(ctx context.Context, toID string, amount int64) (models.Transaction, error)
	History(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	Audit(ctx context.Context) ([]models.BalanceMismatch, error)
}

type Relay interface {
	Subscribe(userID string) (*relay.Subscriber, error)
	Unsubscribe(sub *relay.Subscriber)
	Publish(ctx context.Context, msg models.Message) (models.Message, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth    Authenticator
	Users   Users
	Catalog Catalog
	Reports Reports
	Ledger  Ledger
	Relay   Relay
	DB      Pinger
}

type APIServer struct {
	config   *config.Config
	logger   *slog.Logger
	server   *http.Server
	limiter  *rateLimiter
	upgrader websocket.Upgrader

	auth    Authenticator
	users   Users
	catalog Catalog
	reports Reports
	ledger  Ledger
	relay   Relay
	db      Pinger
}

func New(config *config.Config, logger *slog.Logger, deps Deps) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:         config.HTTP.Host + ":" + strconv.Itoa(config.HTTP.Port),
			ReadTimeout:  config.HTTP.ReadTimeout,
			WriteTimeout: config.HTTP.WriteTimeout,
			IdleTimeout:  config.HTTP.IdleTimeout,
		},
		limiter: newRateLimiter(config.Auth.LoginRate, config.Auth.LoginBurst),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		auth:    deps.Auth,
		users:   deps.Users,
		catalog: deps.Catalog,
		reports: deps.Reports,
		ledger:  deps.Ledger,
		relay:   deps.Relay,
		db:      deps.DB,
	}
	s.server.Handler = s.Handler()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("addr", s.server.Addr))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

var (
	readOnly = auth.Access{Role: auth.RoleUser}
	mutating = auth.Access{Role: auth.RoleUser, Mutating: true}
	adminRO  = auth.Access{Role: auth.RoleAdmin}
	adminRW  = auth.Access{Role: auth.RoleAdmin, Mutating: true}
)

// Handler builds the routing table. Every non-anonymous route declares the
// access it needs.
func (s *APIServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests, metrics.InstrumentHandler)

	router.HandleFunc("/register", s.limitRate(s.registerHandler())).Methods(http.MethodPost)
	router.HandleFunc("/login", s.limitRate(s.loginHandler())).Methods(http.MethodPost)
	router.HandleFunc("/logout", s.guard(readOnly, s.logoutHandler())).Methods(http.MethodPost)

	router.HandleFunc("/profile", s.guard(readOnly, s.profileHandler())).Methods(http.MethodGet)
	router.HandleFunc("/profile", s.guard(mutating, s.updateProfileHandler())).Methods(http.MethodPost)

	router.HandleFunc("/products", s.guard(readOnly, s.listProductsHandler())).Methods(http.MethodGet)
	router.HandleFunc("/products", s.guard(mutating, s.createProductHandler())).Methods(http.MethodPost)
	router.HandleFunc("/products/{id}", s.guard(readOnly, s.productHandler())).Methods(http.MethodGet)
	router.HandleFunc("/search", s.guard(readOnly, s.searchHandler())).Methods(http.MethodGet)

	router.HandleFunc("/transfer", s.guard(readOnly, s.transferPageHandler())).Methods(http.MethodGet)
	router.HandleFunc("/transfer", s.guard(mutating, s.transferHandler())).Methods(http.MethodPost)

	router.HandleFunc("/reports", s.guard(mutating, s.createReportHandler())).Methods(http.MethodPost)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users", s.guard(adminRO, s.adminUsersHandler())).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/block", s.guard(adminRW, s.adminBlockUserHandler(true))).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unblock", s.guard(adminRW, s.adminBlockUserHandler(false))).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/admin", s.guard(adminRW, s.adminRoleHandler())).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/issue", s.guard(adminRW, s.adminIssueHandler())).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}/block", s.guard(adminRW, s.adminBlockProductHandler(true))).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}/unblock", s.guard(adminRW, s.adminBlockProductHandler(false))).Methods(http.MethodPost)
	admin.HandleFunc("/reports", s.guard(adminRO, s.adminReportsHandler())).Methods(http.MethodGet)
	admin.HandleFunc("/ledger/audit", s.guard(adminRO, s.adminAuditHandler())).Methods(http.MethodGet)

	router.HandleFunc("/ws", s.guard(readOnly, s.wsHandler())).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.healthHandler()).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.guard(adminRO, metrics.Handler().ServeHTTP)).Methods(http.MethodGet)

	return router
}

func (s *APIServer) healthHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			s.logger.Error("Health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
