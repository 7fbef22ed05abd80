package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/common"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/httpapi/middleware"
	"github.com/suPer8Hu/testerhub/internal/profile"
)

const tokenTTL = 24 * time.Hour

type Handler struct {
	Cfg      config.Config
	Profiles *profile.Service
	Chat     *chat.Service
}

func NewHandler(cfg config.Config, profiles *profile.Service, chatSvc *chat.Service) *Handler {
	return &Handler{Cfg: cfg, Profiles: profiles, Chat: chatSvc}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	uid, ok := v.(string)
	return uid, ok && uid != ""
}

// requireUser writes the 401 envelope when the request carries no user.
func requireUser(c *gin.Context) (string, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}
