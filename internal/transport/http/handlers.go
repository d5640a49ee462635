package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"warden/internal/auth"
	"warden/internal/principal"
	"warden/internal/session"
	"warden/internal/source/pull"
	"warden/pkg/audit"
)

type Handler struct {
	authn    *auth.Authenticator
	sessions *session.Manager
	pulls    *pull.Manager
	groups   principal.GroupStore
	auditor  *audit.Publisher

	// adminGroup gates the /admin surface.
	adminGroup string
	logger     *slog.Logger

	retrievers []auth.Retriever
}

func NewHandler(
	authn *auth.Authenticator,
	sessions *session.Manager,
	pulls *pull.Manager,
	groups principal.GroupStore,
	auditor *audit.Publisher,
	adminGroup string,
	logger *slog.Logger,
	retrievers []auth.Retriever,
) *Handler {
	return &Handler{
		authn:      authn,
		sessions:   sessions,
		pulls:      pulls,
		groups:     groups,
		auditor:    auditor,
		adminGroup: adminGroup,
		logger:     logger,
		retrievers: retrievers,
	}
}

func (h *Handler) emit(r *http.Request, e audit.Event) {
	if h.auditor == nil {
		return
	}
	_ = h.auditor.Emit(r.Context(), e)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, anonymous, err := h.authn.AuthenticateRequest(w, r, h.retrievers)
	if err != nil {
		var authFailure *auth.AuthenticationError
		if errors.As(err, &authFailure) {
			e := audit.NewEvent(audit.EventLoginFailed)
			e.Login = authFailure.Login
			e.Detail["reason"] = string(authFailure.Reason)
			h.emit(r, e)
		}
		writeError(w, err)
		return
	}
	s, err := h.sessions.Open(r.Context(), p.Login, anonymous)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.ID,
		"login":      p.Login,
		"anonymous":  anonymous,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		if s, serr := h.sessions.Get(r.Context(), cookie.Value); serr == nil {
			e := audit.NewEvent(audit.EventLogout)
			e.Login = s.Login
			h.emit(r, e)
		}
		_ = h.sessions.Close(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	groups, err := h.groups.GroupsOf(r.Context(), s.Login)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"login":       s.Login,
		"anonymous":   s.Anonymous,
		"groups":      groups,
		"last_access": s.LastAccess,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.sessions.List(r.Context()),
	})
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	raise, _ := strconv.ParseBool(r.URL.Query().Get("raise"))

	stats, err := h.pulls.Pull(r.Context(), name, force, raise)
	if err != nil {
		h.logger.Error("manual pull failed",
			slog.String("source", name),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	body := map[string]any{"stats": stats.Counts(), "skipped": stats.Skipped}
	if len(stats.Errors) > 0 {
		msgs := make([]string, len(stats.Errors))
		for i, e := range stats.Errors {
			msgs[i] = e.Error()
		}
		body["errors"] = msgs
	}
	writeJSON(w, http.StatusOK, body)
}

// requireAdmin resolves the session and checks membership in the admin
// group.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := h.sessionFromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if s.Anonymous {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		groups, err := h.groups.GroupsOf(r.Context(), s.Login)
		if err != nil {
			writeError(w, err)
			return
		}
		if !slices.Contains(groups, h.adminGroup) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) sessionFromRequest(r *http.Request) (*session.Session, error) {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil {
		return nil, session.ErrInvalidSession
	}
	return h.sessions.Get(r.Context(), cookie.Value)
}
