package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"articlerec/recommend"
	"articlerec/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Recommender interface {
	Recommend(ctx context.Context, articleID string) []recommend.Recommendation
}

type Vectorizer interface {
	Run(ctx context.Context) (repository.RunRecord, error)
	Running() bool
}

// Server represents the API server
type Server struct {
	recommender Recommender
	vectorizer  Vectorizer
	ledger      repository.RunLedger
	logger      *zap.Logger
	port        int

	srv *http.Server
	// background runs started through the API
	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server. ledger may be nil.
func NewServer(port int, recommender Recommender, vectorizer Vectorizer, ledger repository.RunLedger, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		recommender: recommender,
		vectorizer:  vectorizer,
		ledger:      ledger,
		logger:      logger,
		port:        port,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /recommendations/{id}", s.RecommendationsHandler)
	mux.HandleFunc("POST /vectorize", s.VectorizeHandler)
	mux.HandleFunc("GET /vectorize/runs", s.RunsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting API server", zap.Int("port", s.port))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels runs started through the API
// and waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	s.cancel()
	s.runs.Wait()
	return err
}
