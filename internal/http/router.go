package httpserver

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/http/handlers"
	"github.com/iago/consulta-async/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         logrus.FieldLogger
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the routes behind request id, tracing, CORS and rate
// limiting. ctx bounds background work owned by the middleware.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", deps.API.Root)
	mux.HandleFunc("GET /health", deps.API.Health)
	mux.HandleFunc("POST /consultar", deps.API.CreateConsulta)
	mux.HandleFunc("GET /consultar/{id}", deps.API.GetConsulta)

	handler := http.Handler(mux)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(deps.CORSOrigins)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
