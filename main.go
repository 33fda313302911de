package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/handler"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/service"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting MatteKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 初始化推理环境
	if err := service.InitRuntime(&cfg.Models); err != nil {
		utils.Logger.Fatal("failed to initialize inference runtime", zap.Error(err))
	}
	defer service.ShutdownRuntime()

	device := service.DetectDevice(&cfg.Models)
	utils.Logger.Info("device selected", zap.String("device", string(device)))

	// 模型按需加载，同一时刻只驻留一个
	reclaimer := service.NewReclaimer()
	cache := service.NewModelCache(service.NewOnnxLoader(&cfg.Models, device), reclaimer)
	defer cache.Evict()

	classifier := service.NewSubjectClassifier(&cfg.Classifier)
	defer classifier.Close()

	remover := service.NewRemoverService(&cfg.Pipeline, classifier, cache, reclaimer, device)

	statusService := service.NewStatusService(remover, cfg.Monitor.MaxHeapMB)
	if err := statusService.Start(cfg.Monitor.StatusSchedule); err != nil {
		utils.Logger.Warn("invalid status schedule, periodic status disabled",
			zap.String("schedule", cfg.Monitor.StatusSchedule), zap.Error(err))
	}
	defer statusService.Stop()

	// 初始化Redis
	var resultCache handler.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisService.Ping(ctx)
		cancel()
		if err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully")
			resultCache = redisService
			defer redisService.Close()
		}
	}

	// 初始化Handler
	removeHandler := handler.NewRemoveHandler(&cfg.Upload, remover, resultCache)
	systemHandler := handler.NewSystemHandler(remover, statusService, model.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(cfg.Upload.MaxSize, removeHandler, systemHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}
