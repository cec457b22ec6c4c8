package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

// Calibrator queues calibration requests for the tick loop. Handlers must
// not touch the estimator directly; the loop owns it.
type Calibrator interface {
	RequestCalibrate()
	RequestHeading(deg float64)
}

// Handler builds the API mux. estimates may be nil (no SSE endpoint) and
// cal may be nil (calibration endpoints report 404).
func Handler(status *Status, estimates *fusion.EstimateBroadcaster, cal Calibrator, settings SettingsStore) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/settings", settings.Handler())

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	// Server-sent events: one JSON estimate per tick.
	mux.HandleFunc("/api/estimates", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if estimates == nil {
			http.Error(w, "estimates unavailable", http.StatusNotFound)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		id, ch := estimates.Subscribe(8)
		defer estimates.Unsubscribe(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case est, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(est)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	// Align the heading to the current compass reading.
	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if cal == nil {
			http.Error(w, "calibration unavailable", http.StatusNotFound)
			return
		}
		cal.RequestCalibrate()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	// Set the heading to a user-supplied direction.
	mux.HandleFunc("/api/calibrate/direction", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if cal == nil {
			http.Error(w, "calibration unavailable", http.StatusNotFound)
			return
		}
		var req struct {
			Deg *float64 `json:"deg"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
			return
		}
		if req.Deg == nil {
			http.Error(w, "deg is required", http.StatusBadRequest)
			return
		}
		if *req.Deg < 0 || *req.Deg >= 360 {
			http.Error(w, "deg must be in [0, 360)", http.StatusBadRequest)
			return
		}
		cal.RequestHeading(*req.Deg)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: the SSE stream is long-lived.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
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
