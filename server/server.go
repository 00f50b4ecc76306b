// Package server exposes a read-only HTTP view of a calibration run in
// progress.  It never touches hardware; every handler reads a snapshot.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"

	"github.com/treadmill/brakecal/calibrate"
	"github.com/treadmill/brakecal/export"
)

// MethodPath is an HTTP method and the path it is served on
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to their handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind registers every route on r
func (rt RouteTable) Bind(r chi.Router) {
	for k, v := range rt {
		r.MethodFunc(k.Method, k.Path, v)
	}
}

// Source is a run that can be observed.  *calibrate.Engine satisfies it.
type Source interface {
	Status() calibrate.Status
	Points() []calibrate.Point
}

// Routes returns the status routes for src
func Routes(src Source) RouteTable {
	return RouteTable{
		MethodPath{http.MethodGet, "/status"}: func(w http.ResponseWriter, r *http.Request) {
			replyJSON(w, src.Status())
		},
		MethodPath{http.MethodGet, "/points"}: func(w http.ResponseWriter, r *http.Request) {
			pts := src.Points()
			if pts == nil {
				pts = []calibrate.Point{}
			}
			replyJSON(w, pts)
		},
		MethodPath{http.MethodGet, "/points.txt"}: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := export.WriteTable(w, src.Points()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		},
	}
}

// NewRouter returns a router serving Routes(src) plus GET /endpoints, which
// lists them
func NewRouter(src Source, log logrus.FieldLogger) chi.Router {
	rt := Routes(src)
	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(requestLogger(log))
	rt.Bind(root)
	endpoints := append(rt.Endpoints(), http.MethodGet+" /endpoints")
	sort.Strings(endpoints)
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, endpoints)
	})
	return root
}

func replyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start),
			}).Debug("http request")
		})
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errs := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("status server listening")
		errs <- srv.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shut, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shut); err != nil {
			return err
		}
		if err := <-errs; err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
