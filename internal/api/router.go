package api

import (
	"github.com/gin-gonic/gin"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// NewRouter serves /health unauthenticated and every handler under /api/v1 behind
// the API key.
func NewRouter(apiKey string, health Handler, handlers ...Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		CorrelationID(),
		Logger(),
		Recovery(),
	)

	health.RegisterRoutes(&engine.RouterGroup)

	v1 := engine.Group("/api/v1")
	v1.Use(APIKey(apiKey))

	for _, h := range handlers {
		h.RegisterRoutes(v1)
	}

	return engine
}
