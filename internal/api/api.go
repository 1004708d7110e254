package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/config"
)

// Sessions is the slice of the session manager the web layer needs.
type Sessions interface {
	DeliverAuth(ctx context.Context, userID string, token *oauth2.Token)
	CandidateJSON(userID string) ([]byte, error)
	HandleCorrection(userID string, patch []byte) error
}

type API struct {
	router      *mux.Router
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	sessions    Sessions
	log         *zap.Logger
}

func New(cfg *config.Config, oauthConfig *oauth2.Config, sessions Sessions, log *zap.Logger) *API {
	api := &API{
		router:      mux.NewRouter(),
		config:      cfg,
		oauthConfig: oauthConfig,
		jwtSecret:   []byte(cfg.JWTSecret),
		sessions:    sessions,
		log:         log,
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/correct", a.handleCorrectionForm).Methods("GET")
	a.router.HandleFunc("/correct", a.handleCorrectionSubmit).Methods("POST")
}

func (a *API) Start() error {
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}
	handler := cors.New(corsOptions).Handler(a.router)

	a.log.Info("web server listening", zap.String("bind", a.config.WebBind))
	return http.ListenAndServe(a.config.WebBind, handler)
}
