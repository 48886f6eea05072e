package server

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"gacha-ledger/internal/metrics"
	"gacha-ledger/internal/middleware"
)

// metricsInterceptor counts every unary call by procedure and result code.
func metricsInterceptor(m *metrics.Manager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			resp, err := next(ctx, req)
			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			m.RPCHandled(req.Spec().Procedure, code)
			return resp, err
		}
	}
}

// NewRouter mounts the RPC procedures, the job stream, health and metrics.
func NewRouter(gs *GachaServer, stream *JobStream, m *metrics.Manager, logger zerolog.Logger) http.Handler {
	opts := connect.WithInterceptors(metricsInterceptor(m))

	r := chi.NewRouter()
	r.Use(middleware.RequestID(logger))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	})

	r.Group(func(r chi.Router) {
		r.Use(c.Handler)
		r.Handle(StartImportProcedure, connect.NewUnaryHandler(StartImportProcedure, gs.StartImport, opts))
		r.Handle(PollProcedure, connect.NewUnaryHandler(PollProcedure, gs.Poll, opts))
		r.Handle(GetLedgerProcedure, connect.NewUnaryHandler(GetLedgerProcedure, gs.GetLedger, opts))
		r.Handle(GetAccountStatProcedure, connect.NewUnaryHandler(GetAccountStatProcedure, gs.GetAccountStat, opts))
		r.Handle(GetGlobalPercentileProcedure, connect.NewUnaryHandler(GetGlobalPercentileProcedure, gs.GetGlobalPercentile, opts))
		r.Handle(GetViolationsProcedure, connect.NewUnaryHandler(GetViolationsProcedure, gs.GetViolations, opts))
	})

	r.Get("/ws/imports/{jobID}", stream.ServeHTTP)
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}
