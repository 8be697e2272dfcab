package app

import (
	"net/http"

	"github.com/sony/gobreaker"
)

func (g *Gateway) health() HealthStatus {
	st := HealthStatus{
		StoreConnected: g.cfg.Connected == nil || g.cfg.Connected(),
		Subscribed:     g.sensor.Subscribed(),
		Breaker:        g.sensor.BreakerState(),
	}
	if g.cfg.WriteErrorAge != nil {
		st.LastWriteErrorS = g.cfg.WriteErrorAge().Seconds()
	}

	writesOK := g.cfg.WriteErrorAge == nil || g.cfg.WriteErrorAge() > g.cfg.MinErrorAge
	breakerOK := st.Breaker != gobreaker.StateOpen.String()
	switch {
	case st.StoreConnected && st.Subscribed && breakerOK && writesOK:
		st.Status = "ok"
	case st.StoreConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

// HandleHealth always answers 200 with a status breakdown.
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.health())
}

// HandleReady answers 200 only when every dependency is ok.
func (g *Gateway) HandleReady(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Ready bool `json:"ready"`
	}
	ready := g.health().Status == "ok"
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp{Ready: ready})
}
