package esia

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

const sessionCookieName = "esia_session"

// SuccessHandler renders an established login. The default responds with
// the user as JSON; real applications set their own session cookie here.
type SuccessHandler func(c echo.Context, user any, info string) error

// Handler mounts the strategy on an echo application and bridges echo
// requests to the strategy's Request/Outcome contracts. Browser sessions
// are tracked with an in-process cookie-bound store.
type Handler struct {
	strategy  *Strategy
	sessions  *cookieSessions
	onSuccess SuccessHandler
	log       *slog.Logger
}

type HandlerOption func(*Handler)

func WithSuccessHandler(fn SuccessHandler) HandlerOption {
	return func(h *Handler) {
		h.onSuccess = fn
	}
}

func NewHandler(strategy *Strategy, opts ...HandlerOption) *Handler {
	h := &Handler{
		strategy: strategy,
		sessions: newCookieSessions(),
		log:      strategy.log,
	}
	h.onSuccess = func(c echo.Context, user any, info string) error {
		return c.JSON(http.StatusOK, map[string]any{"user": user})
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers the login and callback routes. The group prefix
// plus "/callback" must equal the configured redirect path so the strategy
// recognizes the callback leg.
func (h *Handler) MountRoutes(group *echo.Group) {
	group.GET("/login", h.handle)
	group.GET("/callback", h.handle)
}

func (h *Handler) handle(c echo.Context) error {
	out := &echoOutcome{c: c, handler: h}
	req := &echoRequest{c: c, session: h.sessions.forContext(c)}
	h.strategy.Authenticate(c.Request().Context(), req, out)
	return out.err
}

type echoRequest struct {
	c       echo.Context
	session SessionStore
}

func (r *echoRequest) Path() string { return r.c.Request().URL.Path }

func (r *echoRequest) QueryParam(name string) string { return r.c.QueryParam(name) }

func (r *echoRequest) Session() SessionStore { return r.session }

func (r *echoRequest) BaseURL() string {
	return r.c.Scheme() + "://" + r.c.Request().Host
}

type echoOutcome struct {
	c       echo.Context
	handler *Handler
	err     error
}

func (o *echoOutcome) Success(user any, info string) {
	o.err = o.handler.onSuccess(o.c, user, info)
}

func (o *echoOutcome) Fail(info string) {
	o.err = o.c.JSON(http.StatusUnauthorized, map[string]string{
		"error":             "authentication_failed",
		"error_description": info,
	})
}

func (o *echoOutcome) Error(err error) {
	o.handler.log.Error("authentication error", "error", err, "path", o.c.Request().URL.Path)
	o.err = echo.NewHTTPError(http.StatusBadGateway, "authentication error")
}

func (o *echoOutcome) Redirect(url string, code int) {
	o.err = o.c.Redirect(code, url)
}

// cookieSessions keys per-browser SessionStores by a ksuid cookie.
type cookieSessions struct {
	mu     sync.Mutex
	states map[string]SessionStore
}

func newCookieSessions() *cookieSessions {
	return &cookieSessions{states: make(map[string]SessionStore)}
}

func (cs *cookieSessions) forContext(c echo.Context) SessionStore {
	var id string
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		id = cookie.Value
	} else {
		id = ksuid.New().String()
		c.SetCookie(&http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	store, ok := cs.states[id]
	if !ok {
		store = NewMemorySessionStore()
		cs.states[id] = store
	}
	return store
}
