package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gregtusar/assetrouter/pkg/balance"
	"github.com/gregtusar/assetrouter/pkg/bridge"
	"github.com/gregtusar/assetrouter/pkg/collateral"
	"github.com/gregtusar/assetrouter/pkg/fees"
	"github.com/gregtusar/assetrouter/pkg/ledger"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/gregtusar/assetrouter/pkg/oracle"
	"github.com/gregtusar/assetrouter/pkg/recipient"
	"github.com/gregtusar/assetrouter/pkg/routing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Services are the engine components the HTTP surface fronts.
type Services struct {
	Rates      *oracle.Oracle
	Fees       *fees.Schedule
	Collateral *collateral.Service
	Routes     *routing.Optimizer
	Recipients *recipient.Classifier
	Bridges    *bridge.Service
	Balances   *balance.Aggregator
}

type Options struct {
	Port            int
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	svc    Services
	opts   Options
	logger *logrus.Logger
	router chi.Router
}

func NewServer(svc Services, opts Options, logger *logrus.Logger) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{svc: svc, opts: opts, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/rates", s.handleRate)
		r.Post("/fees", s.handleFees)
		r.Post("/routes", s.handleRoutes)
		r.Post("/collateral/validate", s.handleCollateralValidate)
		r.Post("/collateral/positions", s.handleCollateralOpen)
		r.Get("/recipients/classify", s.handleClassify)
		r.Post("/bridges", s.handleCreateBridge)
		r.Get("/bridges/{id}", s.handleGetBridge)
		r.Post("/bridges/{id}/complete", s.handleCompleteBridge)
		r.Post("/bridges/{id}/fail", s.handleFailBridge)
		r.Get("/users/{id}/snapshot", s.handleSnapshot)
		r.Get("/users/{id}/assets", s.handleAvailableAssets)
	})
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %d", s.opts.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

type ctxKey int

const requestIDKey ctxKey = 0

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.WithFields(logrus.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

type errorResponse struct {
	Error  string      `json:"error"`
	Detail interface{} `json:"detail,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, detail interface{}) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": id,
			"path":       r.URL.Path,
		}).Error("Request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Detail: detail})
}

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrUnsupportedConversion),
		errors.Is(err, models.ErrUnknownConversionType),
		errors.Is(err, models.ErrInvalidLTV):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, models.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBridgeTransition), errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientCollateral), errors.Is(err, models.ErrNoViableRoute):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrRateUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}
