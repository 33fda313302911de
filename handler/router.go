package handler

import (
	"github.com/TIANLI0/MatteKit/middleware"
	"github.com/gin-gonic/gin"
)

// NewRouter 注册全部路由
func NewRouter(maxUpload int64, remove *RemoveHandler, system *SystemHandler) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxUpload
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.POST("/remove-bg", remove.RemoveBackground)

	r.GET("/health", system.Health)
	r.GET("/models", system.Models)
	r.POST("/cleanup", system.Cleanup)
	r.GET("/status", system.Status)
	r.GET("/version", system.Version)

	return r
}
