package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// HistoryPoint is one recorded snapshot as returned by /sensor/history.
type HistoryPoint struct {
	Time   string             `json:"time"` // RFC3339
	Led    string             `json:"led,omitempty"`
	Fields map[string]float64 `json:"fields"`
}

type historyParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseHistory(r *http.Request) historyParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return historyParams{
		Minutes:   get("minutes", 60, 1, 7*24*60),
		Limit:     get("limit", 100, 1, 1000),
		TimeoutMS: get("timeout_ms", 2000, 200, 10000),
	}
}

func buildFlux(bucket, measurement string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, minutes, sanitizeMeasurement(measurement), limit)
}

// NewHistoryHandler serves GET /sensor/history?minutes=60&limit=100 from Influx.
func NewHistoryHandler(query api.QueryAPI, bucket, measurement string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseHistory(r)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := query.Query(ctx, buildFlux(bucket, measurement, p.Minutes, p.Limit))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]HistoryPoint, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			hp := HistoryPoint{
				Time:   rec.Time().UTC().Format(time.RFC3339),
				Fields: map[string]float64{},
			}
			for k, v := range rec.Values() {
				if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
					continue
				}
				switch x := v.(type) {
				case float64:
					hp.Fields[k] = x
				case int64:
					hp.Fields[k] = float64(x)
				case string:
					if k == "led" {
						hp.Led = x
					}
				}
			}
			out = append(out, hp)
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
