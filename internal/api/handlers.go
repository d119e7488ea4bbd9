package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studyhub/internal/auth"
	"studyhub/internal/objectstore"
	"studyhub/internal/service/account"
	"studyhub/internal/service/attachment"
	"studyhub/internal/service/extraction"
	"studyhub/internal/service/persona"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Auth        *auth.Service
	Accounts    *account.Service
	Personas    *persona.Service
	Extraction  *extraction.Service
	Attachments *attachment.Service
	// Files is set when attachments live on local disk and are served by this process.
	Files  *objectstore.Local
	Logger *zap.Logger
}

// Handler wires HTTP routes to the services.
type Handler struct {
	auth        *auth.Service
	accounts    *account.Service
	personas    *persona.Service
	extraction  *extraction.Service
	attachments *attachment.Service
	files       *objectstore.Local
	logger      *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		auth:        d.Auth,
		accounts:    d.Accounts,
		personas:    d.Personas,
		extraction:  d.Extraction,
		attachments: d.Attachments,
		files:       d.Files,
		logger:      d.Logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := router.Group("/api")
	api.GET("/auth/persona", h.redeemPersona)
	api.GET("/auth/callback", h.magicLinkCallback)
	api.POST("/auth/login", h.login)
	api.POST("/auth/logout", h.logout)
	if h.files != nil {
		api.GET("/files/*path", h.serveFile)
	}

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.GET("/auth/me", h.me)
	authed.POST("/chat/upload", h.uploadAttachment)
	authed.GET("/chat/attachment/:id", h.attachmentURL)
	authed.POST("/parse-email", h.parseEmail)
	authed.POST("/generate-study-plan", h.generateStudyPlan)
}

func (h *Handler) identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return auth.Identity{}, false
	}
	return id, true
}

// redeemPersona burns a persona token and forwards the browser to the login link.
func (h *Handler) redeemPersona(c *gin.Context) {
	link, err := h.personas.Redeem(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, link)
}

// magicLinkCallback exchanges a login link for a session and lands on its redirect target.
func (h *Handler) magicLinkCallback(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	user, redirectTo, err := h.auth.ConsumeMagicLink(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, ok := h.startSession(c, user.ID); !ok {
		return
	}
	c.Redirect(http.StatusFound, redirectTo)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	user, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	authToken, ok := h.startSession(c, user.ID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"role":       user.Role,
		"auth_token": authToken,
	})
}

// logout revokes the presented session, if any, and always clears the auth cookies.
func (h *Handler) logout(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "auth is not configured"})
		return
	}
	if token := h.auth.ExtractToken(c); token != "" {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Warn("revoke token on logout", zap.Error(err))
		}
	}
	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) me(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	user, err := h.accounts.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"email":        user.Email,
		"role":         user.Role,
		"display_name": user.DisplayName,
	})
}

// startSession issues a session token and the matching CSRF token as cookies.
func (h *Handler) startSession(c *gin.Context, userID int64) (string, bool) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	h.setAuthCookies(c, authToken, csrfToken)
	return authToken, true
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
