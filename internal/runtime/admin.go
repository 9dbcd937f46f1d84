package runtime

import (
	"errors"
	"net/http"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
	"github.com/drblury/flowscope/internal/runtime/stats"
)

const defaultAdminPort = 8081

// StartAdminServer registers the management API on AdminPort. It only
// registers handlers, once per Service; the listener starts with the other
// HTTP servers.
func (s *Service) StartAdminServer() {
	if !s.Conf.AdminEnabled {
		return
	}
	s.adminOnce.Do(s.registerAdminHandlers)
}

func (s *Service) registerAdminHandlers() {
	port := s.Conf.AdminPort
	if port == 0 {
		port = defaultAdminPort
	}

	s.RegisterHTTPHandler(port, "/api/mbeans", s.adminHandler(http.MethodGet, s.handleListEntities))
	s.RegisterHTTPHandler(port, "/api/mbeans/attributes", s.adminHandler(http.MethodGet+", "+http.MethodPost, s.handleAttributes))
	s.RegisterHTTPHandler(port, "/api/mbeans/invoke", s.adminHandler(http.MethodPost, s.handleInvoke))
	s.RegisterHTTPHandler(port, "/api/routes", s.adminHandler(http.MethodGet, s.handleListRoutes))
}

type adminFunc func(r *http.Request) (any, error)

func (s *Service) adminHandler(methods string, fn adminFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if s.Conf != nil && len(s.Conf.AdminCORSAllowedOrigins) > 0 {
			if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !strings.Contains(methods, r.Method) {
			s.writeAdminError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}

		result, err := fn(r)
		if err != nil {
			s.writeAdminError(w, adminStatus(err), err)
			return
		}
		if err := jsoncodec.Encode(w, result); err != nil {
			s.Logger.Error("Failed to encode admin response", err, loggingpkg.LogFields{"path": r.URL.Path})
		}
	})
}

func (s *Service) writeAdminError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	if encErr := jsoncodec.Encode(w, map[string]string{"error": err.Error()}); encErr != nil {
		s.Logger.Error("Failed to encode admin error", encErr, nil)
	}
}

func adminStatus(err error) int {
	switch {
	case errors.Is(err, errspkg.ErrEntityNotFound), errors.Is(err, errspkg.ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, errspkg.ErrInvalidArgument),
		errors.Is(err, errspkg.ErrInvalidObjectName),
		errors.Is(err, errspkg.ErrUnknownOperation),
		errors.Is(err, errspkg.ErrUnknownAttribute),
		errors.Is(err, errspkg.ErrReadOnlyAttribute),
		errors.Is(err, errspkg.ErrInvalidRange),
		errors.Is(err, errspkg.ErrNotBrowsable):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Service) handleListEntities(r *http.Request) (any, error) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = s.strategy.Domain() + ":*"
	}
	names, err := s.registry.FindString(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n.String())
	}
	return out, nil
}

type setAttributeRequest struct {
	Name      string `json:"name"`
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
}

func (s *Service) handleAttributes(r *http.Request) (any, error) {
	if r.Method == http.MethodGet {
		name, err := parseAdminName(r.URL.Query().Get("name"))
		if err != nil {
			return nil, err
		}
		if attr := r.URL.Query().Get("attribute"); attr != "" {
			return s.registry.Attribute(name, attr)
		}
		return s.registry.Attributes(name)
	}

	var req setAttributeRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		return nil, errors.Join(errspkg.ErrInvalidArgument, err)
	}
	name, err := parseAdminName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.registry.SetAttribute(name, req.Attribute, req.Value); err != nil {
		return nil, err
	}
	return s.registry.Attribute(name, req.Attribute)
}

type invokeRequest struct {
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Args      []any  `json:"args"`
}

func (s *Service) handleInvoke(r *http.Request) (any, error) {
	var req invokeRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		return nil, errors.Join(errspkg.ErrInvalidArgument, err)
	}
	name, err := parseAdminName(req.Name)
	if err != nil {
		return nil, err
	}
	result, err := s.registry.Invoke(r.Context(), name, req.Operation, req.Args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

type routeView struct {
	ID                 string `json:"id"`
	EndpointURI        string `json:"endpointUri"`
	State              string `json:"state"`
	AutoStartup        bool   `json:"autoStartup"`
	UptimeMillis       int64  `json:"uptimeMillis"`
	ExchangesTotal     int64  `json:"exchangesTotal"`
	ExchangesCompleted int64  `json:"exchangesCompleted"`
	ExchangesFailed    int64  `json:"exchangesFailed"`
	ExchangesInflight  int64  `json:"exchangesInflight"`
}

func (s *Service) handleListRoutes(*http.Request) (any, error) {
	routes := s.routeSnapshot()
	out := make([]routeView, 0, len(routes))
	for _, r := range routes {
		view := routeView{
			ID:           r.id,
			EndpointURI:  r.from.URI(),
			State:        string(r.State()),
			AutoStartup:  r.autoStart,
			UptimeMillis: r.uptime().Milliseconds(),
		}
		if rec, ok := s.stats.Snapshot(stats.ScopeRoute, r.id); ok {
			view.ExchangesTotal = rec.ExchangesTotal
			view.ExchangesCompleted = rec.ExchangesCompleted
			view.ExchangesFailed = rec.ExchangesFailed
			view.ExchangesInflight = rec.ExchangesInflight
		}
		out = append(out, view)
	}
	return out, nil
}

func parseAdminName(raw string) (naming.ObjectName, error) {
	if raw == "" {
		return naming.ObjectName{}, errors.Join(errspkg.ErrInvalidArgument, errors.New("name is required"))
	}
	return naming.Parse(raw)
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
