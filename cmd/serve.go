package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/pipeline"
	"github.com/sells-group/sourcing-cli/internal/ranker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for sourcing runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Workers run for the lifetime of the server.
		go func() {
			if err := env.Pool.Run(ctx); err != nil {
				zap.L().Error("worker pool exited", zap.Error(err))
			}
		}()

		r := apiRouter(ctx, env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiRouter builds the HTTP surface. watchCtx outlives individual requests:
// it bounds the background watchers that finalize runs once enrichment
// drains.
func apiRouter(watchCtx context.Context, env *pipelineEnv) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var body pipeline.StartRunRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		run, err := env.Pipeline.StartRun(req.Context(), body)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		// Finalize in the background once enrichment drains.
		go func() {
			if err := env.Pipeline.Watch(watchCtx, run.ID); err != nil {
				zap.L().Error("run watch failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, run)
	})

	r.Get("/runs/{runID}/status", func(w http.ResponseWriter, req *http.Request) {
		report, err := env.Pipeline.Status(req.Context(), chi.URLParam(req, "runID"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Get("/runs/{runID}/ranking", func(w http.ResponseWriter, req *http.Request) {
		partial := req.URL.Query().Get("partial") == "true"

		rankings, err := env.Pipeline.Rank(req.Context(), chi.URLParam(req, "runID"), partial)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		if topStr := req.URL.Query().Get("top"); topStr != "" {
			top, err := strconv.Atoi(topStr)
			if err != nil || top < 0 {
				writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
				return
			}
			rankings = ranker.TopK(rankings, top)
		}
		writeJSON(w, http.StatusOK, rankings)
	})

	r.Post("/runs/{runID}/override", func(w http.ResponseWriter, req *http.Request) {
		var body pipeline.OverrideRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := env.Pipeline.SetOverride(req.Context(), chi.URLParam(req, "runID"), body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	})

	r.Post("/runs/{runID}/cancel", func(w http.ResponseWriter, req *http.Request) {
		if err := env.Pipeline.CancelRun(req.Context(), chi.URLParam(req, "runID")); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	})

	r.Get("/runs/{runID}/decisions", func(w http.ResponseWriter, req *http.Request) {
		decisions, err := env.Pipeline.Decisions(req.Context(), chi.URLParam(req, "runID"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, decisions)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
