package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/common"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/httpapi/handlers"
	"github.com/suPer8Hu/testerhub/internal/httpapi/middleware"
	"github.com/suPer8Hu/testerhub/internal/profile"
)

func NewRouter(cfg config.Config, profiles *profile.Service, chatSvc *chat.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(cfg, profiles, chatSvc)

	r.GET("/ping", h.Ping)

	// profiles
	r.POST("/profiles", h.CreateProfile)
	r.GET("/profiles/:uid", h.GetProfile)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.PATCH("/me/profile", h.UpdateMe)

	// Chat (JWT required)
	authGroup.POST("/chats", h.StartChat)
	authGroup.POST("/chats/groups", h.StartGroup)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/stream", h.StreamChats)
	authGroup.GET("/chats/:conversation_id", h.OpenChat)
	authGroup.GET("/chats/:conversation_id/messages", h.ListChatMessages)
	authGroup.POST("/chats/:conversation_id/messages", h.SendChatMessage)
	authGroup.GET("/chats/:conversation_id/ws", h.ConversationSocket)
	return r
}
