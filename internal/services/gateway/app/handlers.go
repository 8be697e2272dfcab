package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

// HandleSnapshot serves the current snapshot, or null before the first push.
func (g *Gateway) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.sensor.SensorData().Get())
}

// HandleStream pushes every snapshot as a server-sent event. Each client is an
// observer for as long as the request lives. Slow clients miss intermediate
// snapshots instead of holding up the others, but always get the newest.
func (g *Gateway) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates := make(chan *model.SensorSnapshot, g.cfg.StreamBuffer)
	unsub := g.sensor.SensorData().Subscribe(func(s *model.SensorSnapshot) {
		if s == nil {
			return
		}
		reactive.SendLatest(updates, s)
	})
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(g.cfg.StreamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			b, err := json.Marshal(s)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleLed accepts {"status":1} (or ?status=1) and writes it to the LED path.
// A repeated Idempotency-Key is acknowledged without writing again; reusing
// one with a different status is a conflict.
func (g *Gateway) HandleLed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LedRequest
	if q := strings.TrimSpace(r.URL.Query().Get("status")); q != "" {
		f, err := parseStatus(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Status = f
	} else if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	resp := LedResponse{RequestID: key, Status: req.Status}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}

	fingerprint := strconv.FormatFloat(req.Status, 'g', -1, 64)
	if first, recorded := g.seen.Check(key, fingerprint); !first {
		resp.Duplicate = true
		if recorded != fingerprint {
			resp.Status, _ = strconv.ParseFloat(recorded, 64)
			resp.Error = "idempotency key already used with status " + recorded
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	err := g.sensor.SetLed(r.Context(), req.Status)
	if err == nil {
		g.cfg.Logger.Printf("gateway: led=%v accepted [%s]", req.Status, resp.RequestID)
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	g.seen.Forget(key)
	resp.Error = err.Error()
	code := http.StatusBadGateway
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		code = http.StatusServiceUnavailable
	}
	g.cfg.Logger.Printf("gateway: led=%v failed [%s]: %v", req.Status, resp.RequestID, err)
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
