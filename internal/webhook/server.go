// internal/webhook/server.go
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/coredelegate/internal/app"
	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/cron"
	"github.com/user/coredelegate/internal/sites"
	"github.com/user/coredelegate/internal/types"
)

// Server is the HTTP control API of a running client.
type Server struct {
	app   *app.App
	token string
	mux   *http.ServeMux
}

// NewServer creates a Server for a. A non-empty token is required as a
// bearer token on every endpoint except /health.
func NewServer(a *app.App, token string) *Server {
	s := &Server{
		app:   a,
		token: token,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.auth(promhttp.Handler().ServeHTTP))
	s.mux.HandleFunc("GET /api/handlers", s.auth(s.handleHandlers))
	s.mux.HandleFunc("POST /api/links/resolve", s.auth(s.handleResolve))
	s.mux.HandleFunc("POST /api/links/choose", s.auth(s.handleChoose))
	s.mux.HandleFunc("GET /api/navigation", s.auth(s.handleNavigation))
	s.mux.HandleFunc("GET /api/sites", s.auth(s.handleSites))
	s.mux.HandleFunc("POST /api/sites/login", s.auth(s.handleLogin))
	s.mux.HandleFunc("POST /api/sites/logout", s.auth(s.handleLogout))
	s.mux.HandleFunc("POST /api/network", s.auth(s.handleNetwork))
	s.mux.HandleFunc("GET /api/cron", s.auth(s.handleCronStatus))
	s.mux.HandleFunc("POST /api/cron/sync", s.auth(s.handleCronSync))
	s.mux.HandleFunc("POST /api/cron/{name}/run", s.auth(s.handleCronRun))
	s.mux.HandleFunc("GET /api/cron/{name}/history", s.auth(s.handleCronHistory))
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHandlers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"delegates": s.app.Inventory(),
		"cron":      s.app.Cron.Describe(),
	})
}

// resolveRequest is the JSON body for POST /api/links/resolve.
type resolveRequest struct {
	URL            string       `json:"url"`
	CourseID       int64        `json:"course_id"`
	Username       string       `json:"username"`
	SiteID         types.SiteID `json:"site_id"`
	OpenExternally bool         `json:"open_externally"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
		return
	}

	res, err := s.app.Resolver.Resolve(r.Context(), req.URL, contentlinks.ResolveOptions{
		CourseID:       req.CourseID,
		Username:       req.Username,
		SiteID:         req.SiteID,
		OpenExternally: req.OpenExternally,
	})
	if errors.Is(err, contentlinks.ErrChoiceExpired) {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	if err != nil {
		slog.Error("resolve link failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, res)
}

// chooseRequest is the JSON body for POST /api/links/choose.
type chooseRequest struct {
	ChoiceID types.ChoiceID `json:"choice_id"`
	SiteID   types.SiteID   `json:"site_id"`
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	var req chooseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ChoiceID == "" || req.SiteID == "" {
		http.Error(w, `{"error":"choice_id and site_id are required"}`, http.StatusBadRequest)
		return
	}

	res, err := s.app.Resolver.Choose(r.Context(), req.ChoiceID, req.SiteID)
	switch {
	case errors.Is(err, contentlinks.ErrChoiceExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, contentlinks.ErrInvalidSite):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("choose site failed", "choice_id", req.ChoiceID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, res)
	}
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.app.History.Visits())
}

type siteResponse struct {
	types.Site
	Current bool `json:"current"`
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	current := s.app.Sites.CurrentSiteID()
	list := s.app.Sites.Sites()
	out := make([]siteResponse, 0, len(list))
	for _, site := range list {
		out = append(out, siteResponse{Site: site, Current: site.ID == current})
	}
	writeJSON(w, out)
}

type loginRequest struct {
	SiteID types.SiteID `json:"site_id"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := s.app.Sites.Login(req.SiteID); err != nil {
		if errors.Is(err, sites.ErrUnknownSite) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"current_site": string(req.SiteID)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.app.Sites.Logout()
	writeJSON(w, map[string]string{"current_site": ""})
}

type networkRequest struct {
	Online bool `json:"online"`
	Wifi   bool `json:"wifi"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	s.app.Network.Set(req.Online, req.Wifi)
	writeJSON(w, map[string]bool{"online": s.app.Network.IsOnline(), "wifi": s.app.Network.IsWifi()})
}

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.app.Runner.Status(r.Context()))
}

func cronStatusCode(err error) int {
	switch {
	case errors.Is(err, cron.ErrUnknownHandler):
		return http.StatusNotFound
	case errors.Is(err, cron.ErrOffline), errors.Is(err, cron.ErrSyncRequiresWifi):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCronRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	siteID := types.SiteID(r.URL.Query().Get("site"))
	if err := s.app.Runner.ForceExecution(r.Context(), name, siteID); err != nil {
		slog.Warn("cron run failed", "handler", name, "error", err)
		writeError(w, cronStatusCode(err), err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCronSync(w http.ResponseWriter, r *http.Request) {
	siteID := types.SiteID(r.URL.Query().Get("site"))
	if err := s.app.Runner.ForceSyncExecution(r.Context(), siteID); err != nil {
		slog.Warn("manual sync failed", "error", err)
		writeError(w, cronStatusCode(err), err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCronHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.app.Journal.Tail(r.Context(), name, limit)
	if err != nil {
		slog.Error("tail cron journal failed", "handler", name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.RunRecord{}
	}
	writeJSON(w, records)
}
