// Package health contains the handler that reports whether the federation can serve queries.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// TargetService defines an interface that services can implement for health checks.
type TargetService interface {
	IsReady(ctx context.Context) (bool, error)
}

// TargetFunc adapts a function to TargetService.
type TargetFunc func(ctx context.Context) (bool, error)

func (f TargetFunc) IsReady(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Checker answers health requests for one target.
type Checker struct {
	TargetService
	TargetServiceName string
	// Timeout bounds each readiness check. Zero means 5 seconds.
	Timeout time.Duration
}

type response struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (o *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestedService := r.URL.Query().Get("service")
	if requestedService != "" && requestedService != o.TargetServiceName {
		http.Error(w, "service '"+requestedService+"' is not registered with the health handler", http.StatusNotFound)
		return
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := response{Status: StatusServing, Service: o.TargetServiceName}
	code := http.StatusOK
	ready, err := o.IsReady(ctx)
	if err != nil {
		resp.Error = err.Error()
	}
	if err != nil || !ready {
		resp.Status = StatusNotServing
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
