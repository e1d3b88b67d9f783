package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"sunny/allocator"
	"sunny/engine"
	"sunny/portfolio"
	"sunny/store"
)

type ErrResponse struct {
	HTTPStatusCode int    `json:"status"`
	Message        string `json:"message"`
}

type AllocationRequest struct {
	Weights []float64 `json:"weights"`
	Cores   int       `json:"cores"`
	Explain bool      `json:"explain,omitempty"`
}

type AllocationResponse struct {
	Allocation allocator.Allocation `json:"allocation"`
	Portfolio  portfolio.Portfolio  `json:"portfolio"`
	Passes     []allocator.Pass     `json:"passes,omitempty"`
}

type CatalogResponse struct {
	Engines  []engine.Entry `json:"engines"`
	Flagship engine.ID      `json:"flagship,omitempty"`
	Fallback engine.ID      `json:"fallback,omitempty"`
}

type Api struct {
	Address string
	Port    int
	Manager *Manager
	Router  *chi.Mux
}

func NewApi(address string, port int, m *Manager) *Api {
	a := &Api{Address: address, Port: port, Manager: m}
	a.initRouter()
	return a
}

func (a *Api) initRouter() {
	a.Router = chi.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(requestLogger)

	a.Router.Post("/allocations", a.AllocateHandler)
	a.Router.Get("/catalog", a.CatalogHandler)
	a.Router.Route("/runs", func(r chi.Router) {
		r.Post("/", a.StartRunHandler)
		r.Get("/", a.ListRunsHandler)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", a.GetRunHandler)
			r.Delete("/", a.StopRunHandler)
		})
	})
}

func (a *Api) Server() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.Address, a.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *Api) AllocateHandler(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !decode(w, r, &req) {
		return
	}

	alloc, passes, err := a.Manager.Allocate(req.Weights, req.Cores)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := AllocationResponse{Allocation: alloc, Portfolio: alloc.Portfolio()}
	if req.Explain {
		resp.Passes = passes
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Api) CatalogHandler(w http.ResponseWriter, _ *http.Request) {
	c := a.Manager.Catalog()
	writeJSON(w, http.StatusOK, CatalogResponse{
		Engines:  c.Entries(),
		Flagship: c.Flagship(),
		Fallback: c.Fallback(),
	})
}

func (a *Api) StartRunHandler(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !decode(w, r, &req) {
		return
	}

	// Solvers outlive the HTTP request.
	run, err := a.Manager.Solve(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (a *Api) ListRunsHandler(w http.ResponseWriter, _ *http.Request) {
	runs, err := a.Manager.ListRuns()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *Api) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	status, err := a.Manager.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *Api) StopRunHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	status, err := a.Manager.StopRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrResponse{HTTPStatusCode: http.StatusBadRequest, Message: "invalid run id"})
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		msg := "Error unmarshalling body: " + err.Error()
		slog.Debug(msg, "component", "api")
		writeJSON(w, http.StatusBadRequest, ErrResponse{HTTPStatusCode: http.StatusBadRequest, Message: msg})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, allocator.ErrInvalidArgument), errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, ErrResponse{HTTPStatusCode: status, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Error encoding response.", "component", "api", "err", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("Request.", "component", "api", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start), "requestId", middleware.GetReqID(r.Context()))
	})
}
