package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/auth"
	"github.com/C4T-BuT-S4D/hashchat/internal/chat"
	"github.com/C4T-BuT-S4D/hashchat/internal/config"
	"github.com/C4T-BuT-S4D/hashchat/internal/gate"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/moderation"
	"github.com/C4T-BuT-S4D/hashchat/internal/session"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	sessionKey      = "session"
	defaultLogLimit = 50

	defaultGateInterval = 30 * time.Second
)

type Service struct {
	config *config.Config
	store  store.Store
	auth   *auth.Service
	codec  *session.Codec
	panel  *moderation.Panel

	upgrader websocket.Upgrader

	// gateInterval is how often open chat connections re-run the gate.
	gateInterval time.Duration
}

func NewService(
	cfg *config.Config,
	st store.Store,
	authService *auth.Service,
	codec *session.Codec,
	panel *moderation.Panel,
) *Service {
	gateInterval := cfg.RefreshInterval
	if gateInterval <= 0 {
		gateInterval = defaultGateInterval
	}
	return &Service{
		config: cfg,
		store:  st,
		auth:   authService,
		codec:  codec,
		panel:  panel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		gateInterval: gateInterval,
	}
}

func (s *Service) Register(e *echo.Echo) {
	e.GET("/api/view", s.HandleView())
	e.POST("/api/login", s.HandleLogin())
	e.POST("/api/signup", s.HandleSignup())
	e.POST("/api/logout", s.HandleLogout())
	e.GET("/api/channels", s.HandleChannels(), s.requireView(gate.ViewChat))
	e.GET("/ws", s.HandleWS(), s.requireView(gate.ViewChat))

	admin := e.Group("/api/admin", s.requireView(gate.ViewAdmin))
	admin.GET("/users", s.HandleUsers())
	admin.POST("/users/:id/toggle", s.HandleToggleUser())
	admin.PUT("/maintenance", s.HandleMaintenance())
	admin.GET("/dashboard", s.HandleDashboard())
	admin.GET("/logs", s.HandleLogs())
}

type viewResponse struct {
	View    gate.View       `json:"view"`
	Session *models.Session `json:"session,omitempty"`
}

// resolve runs the gate for the caller. The cookie session is re-read from the
// users table so bans and role changes take effect immediately.
func (s *Service) resolve(rc *RequestContext) (gate.View, *models.Session) {
	sess := s.currentSession(rc)
	return gate.Resolve(sess, s.panel.Maintenance()), sess
}

func (s *Service) currentSession(rc *RequestContext) *models.Session {
	cookie, err := rc.EC().Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	sess, err := s.codec.Parse(cookie.Value)
	if err != nil {
		rc.L().Debugf("dropping session cookie: %v", err)
		s.clearCookie(rc.EC())
		return nil
	}

	fresh, err := s.auth.Refresh(rc, sess)
	switch {
	case errors.Is(err, auth.ErrSessionRevoked):
		rc.L().Infof("session %s no longer matches an account", sess.ID)
		s.clearCookie(rc.EC())
		return nil
	case err != nil:
		rc.L().Warnf("refreshing session %s, using cookie copy: %v", sess.ID, err)
		return &sess
	}
	return &fresh
}

// requireView lets the request through only if the gate resolves to one of views.
func (s *Service) requireView(views ...gate.View) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := NewRequestContext(c.Request().Context(), c)
			view, sess := s.resolve(rc)
			if !slices.Contains(views, view) {
				rc.WithSession(sess).L().Debugf("view %s may not access %s", view, c.Path())
				return c.JSON(viewStatus(view), echo.Map{"error": "not allowed", "view": view})
			}
			c.Set(sessionKey, sess)
			return next(c)
		}
	}
}

func viewStatus(view gate.View) int {
	switch view {
	case gate.ViewUnauthenticated:
		return http.StatusUnauthorized
	case gate.ViewMaintenance:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func sessionFrom(c echo.Context) *models.Session {
	sess, _ := c.Get(sessionKey).(*models.Session)
	return sess
}

func (s *Service) HandleView() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)
		view, sess := s.resolve(rc)
		return c.JSON(http.StatusOK, viewResponse{View: view, Session: sess})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) HandleLogin() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)

		var req loginRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		sess, err := s.auth.Login(rc, req.Email, req.Password)
		if err != nil {
			return credentialError(rc, err)
		}

		rc.WithSession(&sess).L().Info("logged in")
		return s.startSession(rc, sess)
	}
}

func (s *Service) HandleSignup() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)

		var req auth.SignupRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
		}

		sess, err := s.auth.Signup(rc, req)
		if err != nil {
			return credentialError(rc, err)
		}

		rc.WithSession(&sess).L().Info("signed up")
		return s.startSession(rc, sess)
	}
}

func credentialError(rc *RequestContext, err error) error {
	c := rc.EC()

	var insertErr *auth.InsertError
	switch {
	case errors.Is(err, auth.ErrIncompleteForm):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.As(err, &insertErr):
		rc.L().Warnf("signup rejected: %v", err)
		if errors.Is(err, store.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email is already registered"})
		}
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	case errors.Is(err, auth.ErrLoginAfterSignup):
		rc.L().Errorf("login after signup: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": auth.ErrLoginAfterSignup.Error()})
	default:
		rc.L().Errorf("credential flow failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

func (s *Service) startSession(rc *RequestContext, sess models.Session) error {
	token, expires, err := s.codec.Issue(sess)
	if err != nil {
		rc.L().Errorf("issuing session: %v", err)
		return rc.EC().JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	s.setCookie(rc.EC(), token, expires)

	return rc.EC().JSON(http.StatusOK, viewResponse{
		View:    gate.Resolve(&sess, s.panel.Maintenance()),
		Session: &sess,
	})
}

func (s *Service) HandleLogout() echo.HandlerFunc {
	return func(c echo.Context) error {
		s.clearCookie(c)
		return c.JSON(http.StatusOK, viewResponse{View: gate.Resolve(nil, s.panel.Maintenance())})
	}
}

func (s *Service) setCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(s.codec.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) HandleChannels() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)

		channels, err := chat.ListChannels(rc, s.store)
		if err != nil {
			rc.L().Errorf("failed to list channels: %v", err)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to load channels"})
		}
		return c.JSON(http.StatusOK, channels)
	}
}

// adminUser is the moderation view of an account; credentials never leave the server.
type adminUser struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Status    models.UserStatus `json:"status"`
	Role      models.Role       `json:"role"`
	CreatedAt time.Time         `json:"created_at"`
}

func toAdminUser(u models.User) adminUser {
	return adminUser{
		ID:        u.ID,
		Name:      u.Username,
		Email:     u.Email,
		Status:    u.Status,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func (s *Service) HandleUsers() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)

		users, err := s.panel.LoadUsers(rc)
		if err != nil {
			rc.L().Errorf("failed to load users: %v", err)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to load users"})
		}

		res := make([]adminUser, 0, len(users))
		for _, u := range users {
			res = append(res, toAdminUser(u))
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (s *Service) HandleToggleUser() echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := sessionFrom(c)
		rc := NewRequestContext(c.Request().Context(), c).WithSession(actor)

		user, err := s.panel.ToggleUserStatus(rc, *actor, c.Param("id"))
		if err != nil {
			return moderationError(rc, err)
		}

		rc.L().Infof("user %s is now %s", user.Email, user.Status)
		return c.JSON(http.StatusOK, toAdminUser(user))
	}
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Service) HandleMaintenance() echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := sessionFrom(c)
		rc := NewRequestContext(c.Request().Context(), c).WithSession(actor)

		var req maintenanceRequest
		if err := c.Bind(&req); err != nil || req.Enabled == nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "enabled is required"})
		}

		if err := s.panel.SetMaintenanceMode(rc, *actor, *req.Enabled); err != nil {
			return moderationError(rc, err)
		}

		rc.L().Infof("maintenance mode set to %v", *req.Enabled)
		return c.JSON(http.StatusOK, echo.Map{"maintenance": s.panel.Maintenance()})
	}
}

func (s *Service) HandleDashboard() echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := NewRequestContext(c.Request().Context(), c)

		if _, err := s.panel.LoadUsers(rc); err != nil {
			rc.L().Warnf("serving cached dashboard: %v", err)
		}
		return c.JSON(http.StatusOK, s.panel.Dashboard())
	}
}

func (s *Service) HandleLogs() echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := sessionFrom(c)
		rc := NewRequestContext(c.Request().Context(), c).WithSession(actor)

		limit := defaultLogLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
			}
			limit = n
		}

		entries, err := s.panel.Logs(rc, *actor, limit)
		if err != nil {
			return moderationError(rc, err)
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func moderationError(rc *RequestContext, err error) error {
	c := rc.EC()

	switch {
	case errors.Is(err, moderation.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, moderation.ErrUnknownUser):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, moderation.ErrUpdateFailed):
		rc.L().Errorf("moderation write failed: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	default:
		rc.L().Errorf("moderation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
