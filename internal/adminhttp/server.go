// Package adminhttp is the small read-only HTTP admin surface the DOMAIN
// STACK table binds to go-chi/chi (cmd/*d's "/healthz", "/stats",
// "/connections" alongside the native mailbox protocol). It never accepts
// mutating requests — every control operation still goes through the
// mailbox/portal protocol, matching §6's "daemons take no user-facing
// flags" design: this surface is diagnostics only.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ringSource is satisfied by minilog.Ring; kept as a local interface so
// this package doesn't need to import minilog just for the /log route.
type ringSource interface {
	Dump() []string
}

// New builds a chi router exposing /healthz, /metrics (the given
// collectors registered against a fresh registry) and whatever routes
// extra mounts under the router before returning. When ring is non-nil,
// /log serves its most recent lines, oldest first.
func New(service string, collectors []prometheus.Collector, ring ringSource, extra func(r chi.Router)) http.Handler {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		reg.MustRegister(c)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{"service": service, "status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if ring != nil {
		r.Get("/log", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, ring.Dump())
		})
	}

	if extra != nil {
		extra(r)
	}

	return r
}

// writeJSON is the one response helper every admin route shares; errors
// encoding v are swallowed since every caller passes a plain map or struct.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJSON is exported for cmd/*d's own route handlers, which build on
// the same response convention.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	writeJSON(w, v)
}
