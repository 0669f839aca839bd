package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/msgsearch-go/app/controllers"
	"github.com/aihub/msgsearch-go/app/middleware"
	"github.com/aihub/msgsearch-go/internal/di"
)

// Init registers all routes. Must be called after the DI container is populated.
func Init() error {
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)

	factory := controllers.NewControllerFactory(di.GetContainer())

	healthController, err := factory.CreateHealthController()
	if err != nil {
		return err
	}
	web.Router("/healthz", healthController, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	searchController, err := factory.CreateSearchController()
	if err != nil {
		return err
	}
	web.Router("/api/v1/search", searchController, "post:Search")
	web.Router("/api/v1/search/cache/stats", searchController, "get:GetCacheStats")

	messageController, err := factory.CreateMessageController()
	if err != nil {
		return err
	}
	// 注意：具体路由必须在参数路由之前
	web.Router("/api/v1/messages/batch", messageController, "post:IngestBatch")
	web.Router("/api/v1/messages", messageController, "post:Ingest")
	web.Router("/api/v1/messages/:id", messageController, "delete:Delete")

	return nil
}
