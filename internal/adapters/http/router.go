// Package http exposes the development room server over gin.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/adapters/signal"
	"github.com/chaincast/session/internal/auth"
	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

const (
	sessionName   = "ChaincastSessions"
	sessionUserID = "user_id"
	ctxUser       = "user"
)

var errMissingToken = errors.New("missing bearer token")

type TokenRequest struct {
	Name string `json:"name"`
}

type TokenResponse struct {
	Token     string      `json:"token"`
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type EndRoomRequest struct {
	Reason string `json:"reason"`
}

// extractToken reads "Authorization: Bearer <t>" or the token query
// parameter browsers use for websocket upgrades.
func extractToken(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errMissingToken
		}
		return parts[1], nil
	}
	if t := c.Query("token"); t != "" {
		return t, nil
	}
	return "", errMissingToken
}

// RequireToken rejects requests without a valid bearer token.
func RequireToken(iss *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		user, err := iss.Verify(token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub, ctl *signal.Controller, iss *auth.Issuer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Server.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(h.List())})
	})

	api := r.Group("/api")

	if cfg.Server.DevTokens {
		api.POST("/token", issueToken(iss))
	}

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": h.List()})
	})

	authed := api.Group("", RequireToken(iss))

	authed.GET("/ws", func(c *gin.Context) {
		user := c.MustGet(ctxUser).(domain.User)
		log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("ws endpoint hit")
		// Serve writes its own response on upgrade failure.
		_ = ctl.Serve(ctx, c.Writer, c.Request, user)
	})

	authed.POST("/rooms/:id/end", endRoom(h, protocol.EventRoomEnded))
	authed.DELETE("/rooms/:id", endRoom(h, protocol.EventRoomRemoved))

	log.Info().Str("module", "adapters.http").Bool("dev_tokens", cfg.Server.DevTokens).Msg("router setup")
	return r
}

// issueToken mints a token for a display name. The cookie session keeps
// the user id stable across calls from the same browser.
func issueToken(iss *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
			return
		}
		user, err := domain.NewUser(req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess := sessions.Default(c)
		if id, ok := sess.Get(sessionUserID).(string); ok && id != "" {
			user.ID = domain.UserID(id)
		} else {
			sess.Set(sessionUserID, string(user.ID))
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}

		token, exp, err := iss.Issue(*user)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("issued dev token")
		c.JSON(http.StatusOK, TokenResponse{Token: token, User: *user, ExpiresAt: exp})
	}
}

func endRoom(h *hub.Hub, ev protocol.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EndRoomRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
		}
		id := domain.RoomID(c.Param("id"))
		if !h.EndRoom(c.Request.Context(), id, ev, req.Reason) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
