package main

import (
	"net/http"

	"github.com/llmproxy/credpool/internal/handler"
	"github.com/llmproxy/credpool/internal/metrics"
	"github.com/llmproxy/credpool/internal/pool"
)

func setupRouter(ops *handler.OpsHandler, collector *metrics.Collector, holder *pool.Holder) *http.ServeMux {
	mux := http.NewServeMux()

	ops.Register(mux)
	mux.HandleFunc("GET /metrics", collector.Handler(func() string {
		return string(holder.Snapshot().Mode)
	}))

	return mux
}
