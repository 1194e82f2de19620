package server

import (
	"github.com/gin-gonic/gin"

	"github.com/auriclabs/auric/internal/config"
	"github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/domains/user"
	"github.com/auriclabs/auric/internal/handlers"
	wshandler "github.com/auriclabs/auric/internal/handlers/websocket"
	userrepo "github.com/auriclabs/auric/internal/repository/user"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Dependencies carries the wired services the routes need.
type Dependencies struct {
	Settings            *config.Settings
	Logger              *Logger.Logger
	UserService         user.UserService
	ConversationService conversation.ConversationService
	SpeechProfiles      userrepo.SpeechProfileRepository
	SessionFactory      wshandler.SessionFactory
}

// InitializeRoutes assembles the HTTP and websocket surface. The
// returned websocket handler must be closed on shutdown so live
// sockets unwind their pipelines.
func InitializeRoutes(r *gin.Engine, deps Dependencies) *wshandler.Handler {
	r.Use(handlers.CORSMiddleware())
	r.Use(handlers.RequestLoggerMiddleware(deps.Logger))
	r.Use(handlers.ErrorHandlerMiddleware(deps.Logger))

	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	api := r.Group("/v1")
	handlers.NewConvoHandler(deps.ConversationService, deps.Logger).
		RegisterConversationRoutes(api, deps.UserService)
	handlers.NewSpeechProfileHandler(deps.SpeechProfiles, deps.Logger).
		RegisterSpeechProfileRoutes(api, deps.UserService)

	ws := wshandler.NewHandler(deps.Logger, deps.Settings, deps.UserService, deps.SessionFactory)
	ws.RegisterRoutes(r)
	return ws
}
