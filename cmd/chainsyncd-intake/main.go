// Command chainsyncd-intake serves the inbound HTTP surface of spec.md §6:
// the network_sync.php action endpoints peers use to push block
// announcements, trigger an out-of-band sync, or poll this node's status.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"chainsyncd/internal/app"
)

func main() {
	a, err := app.Build(listenAddr())
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}
	defer a.Store.Close()

	srv := newServer(a)
	a.Logger.WithField("addr", listenAddr()).Info("chainsyncd-intake listening")
	if err := http.ListenAndServe(listenAddr(), srv); err != nil {
		a.Logger.WithField("err", err).Fatal("server stopped")
	}
}

func listenAddr() string {
	viper.AutomaticEnv()
	addr := viper.GetString("INTAKE_BIND")
	if addr == "" {
		addr = ":8090"
	}
	return addr
}

func newServer(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/network_sync.php", func(r chi.Router) {
		r.Post("/", handleSyncNewBlock(a))  // action routed by query string below
		r.Get("/", handleGetAction(a))
	})

	return r
}

// requestIDMiddleware stamps every request with a correlation id, returned
// in the X-Request-Id response header and stored in the request context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

func handleSyncNewBlock(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		switch action {
		case "sync_new_block", "block":
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeResult(w, http.StatusBadRequest, "error", "read body")
				return
			}
			sig := strings.TrimPrefix(r.Header.Get("X-Broadcast-Signature"), "sha256=")
			res, err := a.Intake.HandleAnnouncement(r.Context(), body, sig)
			if err != nil {
				a.Logger.WithField("err", err).Warn("announcement rejected")
				writeResult(w, http.StatusUnauthorized, "error", err.Error())
				return
			}
			writeResult(w, http.StatusOK, res.Status, res.Message)
		default:
			writeResult(w, http.StatusBadRequest, "error", "unknown action")
		}
	}
}

func handleGetAction(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		ctx := r.Context()

		switch action {
		case "trigger_sync":
			go func() {
				if _, err := a.Scheduler.RunRound(context.Background()); err != nil {
					a.Logger.WithField("err", err).Warn("triggered sync round failed")
				}
			}()
			writeResult(w, http.StatusOK, "success", "sync triggered")

		case "sync":
			res, err := a.Scheduler.RunRound(ctx)
			if err != nil {
				writeResult(w, http.StatusInternalServerError, "error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, res)

		case "status":
			height, ok, err := a.Store.MaxHeight(ctx)
			if err != nil {
				writeResult(w, http.StatusInternalServerError, "error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"height": height, "has_blocks": ok})

		case "mempool_maintenance":
			res, err := a.Janitor.Sweep(ctx, time.Now())
			if err != nil {
				writeResult(w, http.StatusInternalServerError, "error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, res)

		case "mine_block":
			state, err := a.Mining.Tick(ctx)
			if err != nil {
				writeResult(w, http.StatusInternalServerError, "error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"state": state})

		case "get_mempool_status":
			summary, err := a.Store.MempoolStatusSummary(ctx)
			if err != nil {
				writeResult(w, http.StatusInternalServerError, "error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, summary)

		default:
			writeResult(w, http.StatusBadRequest, "error", "unknown action")
		}
	}
}

func writeResult(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, map[string]string{"status": status, "message": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
