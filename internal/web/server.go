package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hoverfc/internal/control"
)

// Deps are the services exposed over HTTP. Nil members disable their routes.
type Deps struct {
	Status    *Status
	Telemetry *TelemetryBroadcaster
	Logs      *LogBuffer
	Params    ParamSource
	// ApplyParams makes a saved params update effective immediately.
	ApplyParams func(control.Params)
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	status := d.Status
	if status == nil {
		status = NewStatus("")
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !getOnly(w, r) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.Handle("/api/params", ParamsHandler(d.Params, d.ApplyParams))
	mux.Handle("/api/about", AboutHandler(status.RunID()))

	if d.Telemetry != nil {
		mux.Handle("/api/telemetry", d.Telemetry.Handler())
	}
	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !getOnly(w, r) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>hoverfc</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>hoverfc</h1><p>run %s, up %ds</p>", snap.RunID, snap.UptimeSec)
		_, _ = fmt.Fprintf(w, "<ul><li><a href=\"/api/status\">/api/status</a></li><li><a href=\"/api/params\">/api/params</a></li>")
		_, _ = fmt.Fprintf(w, "<li><a href=\"/api/logs?format=text\">/api/logs</a></li><li><a href=\"/api/telemetry\">/api/telemetry</a> (SSE)</li></ul>")
		if snap.Last != nil {
			_, _ = fmt.Fprintf(w, "<pre>mode=%s\naileron=%.3f elevator=%.3f rudder=%.3f throttle=%.3f</pre>",
				snap.Last.Mode, snap.Last.Aileron, snap.Last.Elevator, snap.Last.Rudder, snap.Last.Throttle,
			)
		}
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: /api/telemetry is a long-lived stream.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
