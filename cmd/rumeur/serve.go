package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rumeur/analysis"
	"github.com/hazyhaar/rumeur/horosafe"
	"github.com/hazyhaar/rumeur/kit"
	"github.com/hazyhaar/rumeur/logbus"
	"github.com/hazyhaar/rumeur/shield"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel, os.Stdout)
		ctx := cmd.Context()

		opts := []logbus.Option{logbus.WithLogger(logger)}
		if cfg.HideMCPLogs() {
			opts = append(opts, logbus.WithFilter(logbus.HideMCP()))
		}
		bus := logbus.New(opts...)
		go bus.Run(ctx)

		pipe, err := analysis.Build(cfg, analysis.Deps{Log: bus, Logger: logger})
		if err != nil {
			return fmt.Errorf("build pipeline: %w", err)
		}
		defer pipe.Close()

		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           newRouter(pipe, bus, cfg.ReportDir, cfg.AnalyzeRateLimit, logger),
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: an analysis takes minutes and /logs streams
			// for as long as the client stays.
			IdleTimeout: 60 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("server starting", "port", cfg.Port, "provider", cfg.Provider)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

// runner is the part of the pipeline the HTTP front end needs.
type runner interface {
	Run(ctx context.Context, topic string) (*analysis.Result, error)
}

// subscriber is the part of the log bus /logs needs.
type subscriber interface {
	Subscribe() (<-chan string, func())
}

// newRouter builds the HTTP front end. analyzeLimit caps POST /analyze per
// client and minute; 0 disables the cap.
func newRouter(p runner, bus subscriber, reportDir string, analyzeLimit int, logger *slog.Logger) http.Handler {
	analyze := kit.Logging(logger, "analyze")(func(ctx context.Context, req any) (any, error) {
		return p.Run(ctx, req.(string))
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxJSONBody(1 << 20))
	limiter := shield.NewRateLimiter(map[string]shield.Rule{
		"POST /analyze": {Max: analyzeLimit, Window: time.Minute},
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.With(limiter.Middleware).Post("/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic string `json:"topic"`
		}
		// A malformed body is treated like a missing topic.
		_ = json.NewDecoder(r.Body).Decode(&req)

		ctx := kit.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		resp, err := analyze(ctx, req.Topic)
		switch {
		case errors.Is(err, analysis.ErrEmptyTopic):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "缺少主题"})
		case errors.Is(err, analysis.ErrGather):
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "抓取正文失败", "detail": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	})

	r.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
		streamLogs(w, r, bus)
	})

	r.Get("/download/pdf", func(w http.ResponseWriter, r *http.Request) {
		path, err := horosafe.ReportFile(reportDir, r.URL.Query().Get("path"), ".pdf")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if _, err := os.Stat(path); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
		http.ServeFile(w, r, path)
	})

	return r
}

const keepAlive = 15 * time.Second

// streamLogs relays the log bus as Server-Sent Events until the client
// leaves or the bus shuts down.
func streamLogs(w http.ResponseWriter, r *http.Request, bus subscriber) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	msgs, cancel := bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeEvent(w, "[系统] 日志流已连接")
	flusher.Flush()

	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			writeEvent(w, msg)
		case <-tick.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, msg string) {
	fmt.Fprintf(w, "data: %s\n\n", sseEscape(msg))
}

// sseEscape keeps a multi-line message inside one event.
func sseEscape(msg string) string {
	out := make([]byte, 0, len(msg))
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			out = append(out, "\ndata: "...)
			continue
		}
		if msg[i] != '\r' {
			out = append(out, msg[i])
		}
	}
	return string(out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
