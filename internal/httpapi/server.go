// Package httpapi exposes the ledger operations as a JSON HTTP API.
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"syndicate-ledger/internal/identity"
	"syndicate-ledger/internal/market"
	"syndicate-ledger/internal/membership"
	"syndicate-ledger/internal/registry"
	"syndicate-ledger/internal/storage"
	"syndicate-ledger/internal/tokenization"
	"syndicate-ledger/internal/trading"
)

// Options contains the collaborators of the API.
type Options struct {
	Registry     *registry.Service
	Members      *membership.Service
	Tokenization *tokenization.Service
	Market       *market.Service
	Trading      *trading.Service
	History      storage.TradeHistoryStore // nil disables the volume endpoint
	Verifier     *identity.Verifier
	Events       http.Handler // websocket event stream; nil disables /ws/events
	Timeout      time.Duration
	Logger       *log.Logger
}

// Server routes HTTP requests to the ledger services.
type Server struct {
	registry     *registry.Service
	members      *membership.Service
	tokenization *tokenization.Service
	market       *market.Service
	trading      *trading.Service
	history      storage.TradeHistoryStore
	verifier     *identity.Verifier
	events       http.Handler
	timeout      time.Duration
	logger       *log.Logger
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		registry:     opts.Registry,
		members:      opts.Members,
		tokenization: opts.Tokenization,
		market:       opts.Market,
		trading:      opts.Trading,
		history:      opts.History,
		verifier:     opts.Verifier,
		events:       opts.Events,
		timeout:      timeout,
		logger:       logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		if s.events != nil {
			r.Handle("/ws/events", s.events)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))

			r.Get("/overview", s.overview)

			r.Route("/syndicates", func(r chi.Router) {
				r.Get("/", s.listSyndicates)
				r.Post("/", s.createSyndicate)
				r.Route("/{syndicateID}", func(r chi.Router) {
					r.Get("/", s.getSyndicate)
					r.Post("/open", s.openSyndicate)
					r.Post("/close", s.closeSyndicate)
					r.Post("/join", s.join)
					r.Post("/tokenization", s.configureTokenization)
					r.Post("/listings", s.createListing)
					r.Get("/volume", s.volume)
					r.Get("/members", s.listMembers)
					r.Get("/members/{investorID}", s.getMembership)
					r.Post("/members/{investorID}/approve", s.approve)
					r.Post("/members/{investorID}/reject", s.reject)
				})
			})

			r.Route("/listings", func(r chi.Router) {
				r.Get("/", s.listListings)
				r.Get("/{listingID}", s.getListing)
				r.Post("/{listingID}/cancel", s.cancelListing)
				r.Post("/{listingID}/buy", s.buy)
			})

			r.Get("/trades/mine", s.listMyTrades)
			r.Get("/trades/{tradeID}", s.getTrade)

			r.Post("/admin/expire-listings", s.expireListings)
		})
	})
	return r
}
