// Package api provides the HTTP REST API server for cryptoquote.
//
// It exposes endpoints for aggregated price quotes, fiat conversion,
// crypto news, and WebSocket streaming of quote refreshes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/config"
	"github.com/skelhq/cryptoquote/internal/fiat"
	"github.com/skelhq/cryptoquote/internal/news"
	"github.com/skelhq/cryptoquote/internal/pricing"
)

// quoteStreamInterval is how often subscribed symbols are refreshed
// and pushed to WebSocket clients.
const quoteStreamInterval = 15 * time.Second

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	prices *pricing.Service
	news   *news.Service
	wsHub  *WSHub
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config) *Server {
	srv := &Server{
		cfg:    cfg,
		prices: pricing.NewServiceFromConfig(cfg),
		news:   news.NewService(cfg.News.CryptoPanicKey),
		wsHub:  NewWSHub(),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()

	go s.wsHub.Run()
	go s.runQuoteStream(streamCtx)

	if s.cfg.Pricing.WarmupOnStart {
		s.prices.Start(streamCtx)
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.prices.Close()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Quotes
		r.Get("/price/{symbol}", s.handlePrice)
		r.Get("/prices/{symbol}", s.handlePrices)

		// Fiat conversion
		r.Get("/convert", s.handleConvert)

		// News
		r.Get("/news/{symbol}", s.handleNews)

		// Configuration
		r.Get("/config/keys", s.handleConfigKeys)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ConvertResult is the payload for GET /api/v1/convert.
type ConvertResult struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
	Result decimal.Decimal `json:"result"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":     "ok",
			"ws_clients": s.wsHub.ClientCount(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	currency := r.URL.Query().Get("currency")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	quote, err := s.prices.GetPrice(ctx, symbol, currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if quote == nil {
		writeError(w, http.StatusNotFound, "no price data for "+strings.ToUpper(symbol))
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    quote,
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	currency := r.URL.Query().Get("currency")

	limit := s.cfg.Pricing.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	quotes, err := s.prices.GetPrices(ctx, symbol, currency, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    quotes,
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	amount := decimal.NewFromInt(1)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		var err error
		amount, err = decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			writeError(w, http.StatusBadRequest, "amount must be a non-negative number")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	rate, err := s.prices.Converter().Convert(ctx, from, to)
	if err != nil {
		if errors.Is(err, fiat.ErrConversionUnavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConvertResult{
			From:   strings.ToUpper(from),
			To:     strings.ToUpper(to),
			Rate:   rate,
			Amount: amount,
			Result: amount.Mul(rate),
		},
	})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	items, err := s.news.GetNews(ctx, symbol, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    items,
	})
}

func (s *Server) handleConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.cfg),
	})
}

// ============================================================
// Quote streaming
// ============================================================

// runQuoteStream periodically refreshes every symbol any client is
// subscribed to and pushes the quotes through the hub.
func (s *Server) runQuoteStream(ctx context.Context) {
	ticker := time.NewTicker(quoteStreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, symbol := range s.wsHub.Subscriptions() {
			quote, err := s.prices.GetPrice(ctx, symbol, "")
			if err != nil || quote == nil {
				continue
			}
			s.wsHub.Publish(symbol, WSMessage{
				Type: "quote",
				Data: quote,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
