package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listsync/internal/controller"
	"listsync/internal/middleware"
	"listsync/internal/realtime"
)

// Auth carries the secrets both routers check.
type Auth struct {
	JWTSecret     string
	InternalToken string
}

func newEngine(reg *prometheus.Registry, ready gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// Health for load balancers and K8s probes
	router.GET("/health", controller.Health)
	router.GET("/ready", ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return router
}

// ItemsRouter serves the realtime channel, the item read path and the
// endpoints the lists service calls.
func ItemsRouter(auth Auth, items *controller.Items, ws *realtime.Server, reg *prometheus.Registry, ready gin.HandlerFunc) *gin.Engine {
	router := newEngine(reg, ready)

	// Protected: JWT required
	api := router.Group("")
	api.Use(middleware.AuthMiddleware(auth.JWTSecret))
	{
		api.GET("/ws", ws.Handle)
		api.GET("/items/:listId", items.ListItems)
	}

	// Service to service
	internal := router.Group("")
	internal.Use(middleware.InternalAuth(auth.InternalToken))
	{
		internal.DELETE("/items/by-list/:listId", items.PurgeList)
		internal.POST("/internal/notify/list-created", items.ListCreated)
		internal.POST("/internal/notify/list-deleted", items.ListDeleted)
	}
	return router
}

// ListsRouter serves the list endpoints.
func ListsRouter(auth Auth, lists *controller.Lists, reg *prometheus.Registry, ready gin.HandlerFunc) *gin.Engine {
	router := newEngine(reg, ready)

	// Public: no auth
	router.GET("/lists", lists.GetLists)

	// Protected: JWT required
	api := router.Group("")
	api.Use(middleware.AuthMiddleware(auth.JWTSecret))
	{
		api.POST("/lists", lists.CreateList)
		api.DELETE("/lists/:id", lists.DeleteList)
	}
	return router
}
