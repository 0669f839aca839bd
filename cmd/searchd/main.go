package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/app/bootstrap"
	"github.com/aihub/msgsearch-go/app/router"
	"github.com/aihub/msgsearch-go/internal/config"
	"github.com/aihub/msgsearch-go/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	if err := router.Init(); err != nil {
		log.Fatalf("failed to initialize routes: %v", err)
	}

	// 配置Beego全局设置
	web.BConfig.AppName = "Message Search Service"
	web.BConfig.CopyRequestBody = true
	web.BConfig.Listen.HTTPPort = 8002
	if p, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = p
	}

	logger.Info("🚀 Starting Message Search Service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
