package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/handler"
	"github.com/clachance14/pipetrak/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	milestoneHandler *handler.MilestoneHandler,
	bulkHandler *handler.BulkHandler,
	jwtSecret string,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	// Public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/milestones/:id/update",
			RequirePermission(rbac.PermissionUpdateMilestone), milestoneHandler.Update)
		api.POST("/milestones/:id/resolve-conflict",
			RequirePermission(rbac.PermissionResolveConflict), milestoneHandler.ResolveConflict)
		api.GET("/conflicts", milestoneHandler.Conflicts)
		api.GET("/components/:id/milestones", milestoneHandler.ComponentMilestones)
		api.POST("/bulk-updates",
			RequirePermission(rbac.PermissionBulkUpdate), bulkHandler.Submit)
		api.POST("/bulk-updates/validate", bulkHandler.Validate)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
