/*
Copyright 2024 HealthBridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/healthbridge/bridge"
	"github.com/healthbridge/bridge/api/middleware"
	"github.com/healthbridge/bridge/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	bridge *bridge.Bridge
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/health", a.Health)

	sync := router.Group("/sync", middleware.UserIdentity())
	sync.POST("/queue", a.StageOperation)
	sync.POST("/process", a.ProcessBatch)
	sync.POST("/trigger", a.TriggerSync)
	sync.GET("/status", a.GetStatus)
	sync.GET("/items", a.ListQueueItems)
	sync.GET("/items/:id", a.GetQueueItem)
	sync.POST("/retry", a.RetryFailed)

	router.POST("/sync/recover", a.RecoverStuckItems)

	return a.router
}

func NewAPI(b *bridge.Bridge) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	return &Api{bridge: b, router: r}
}

func (a Api) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
