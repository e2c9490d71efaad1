package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/maps-scraper/internal/model"
)

var servePort int

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	shutdownTimeout   = 10 * time.Second
)

// statusReader is the read side of the monitoring tables.
type statusReader interface {
	GetProgress(ctx context.Context, runKey string) (*model.Progress, error)
	ListEvents(ctx context.Context, runKey string, limit int) ([]model.Event, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run progress and events over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return serveUntilDone(ctx, srv)
	},
}

// serveUntilDone runs srv until ctx ends, then shuts it down gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	})

	return g.Wait()
}

func newRouter(st statusReader, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs/{runKey}", func(r chi.Router) {
		r.Get("/progress", func(w http.ResponseWriter, r *http.Request) {
			runKey := chi.URLParam(r, "runKey")
			p, err := st.GetProgress(r.Context(), runKey)
			if err != nil {
				zap.L().Error("serve: get progress", zap.String("run_key", runKey), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load progress"})
				return
			}
			if p == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, p)
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			runKey := chi.URLParam(r, "runKey")
			limit := defaultEventLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
					return
				}
				limit = min(n, maxEventLimit)
			}

			events, err := st.ListEvents(r.Context(), runKey, limit)
			if err != nil {
				zap.L().Error("serve: list events", zap.String("run_key", runKey), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load events"})
				return
			}
			if events == nil {
				events = []model.Event{}
			}
			writeJSON(w, http.StatusOK, events)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
