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
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/healthbridge/bridge/api/middleware"
	model2 "github.com/healthbridge/bridge/api/model"
	"github.com/healthbridge/bridge/internal/apierror"
	"go.opentelemetry.io/otel/trace"
)

func respondError(c *gin.Context, err error) {
	trace.SpanFromContext(c.Request.Context()).RecordError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}

// batchSize reads the optional batch_size query parameter. Zero means the
// configured default.
func batchSize(c *gin.Context) (int, bool) {
	raw := c.Query("batch_size")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size must be a positive integer"})
		return 0, false
	}
	return n, true
}

func (a Api) StageOperation(c *gin.Context) {
	var req model2.StageOperation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateStageOperation(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	entityType, action := req.Operation()
	item, err := a.bridge.StageOperation(c.Request.Context(), middleware.UserID(c), action, entityType, req.Payload, req.EntityID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (a Api) ProcessBatch(c *gin.Context) {
	size, ok := batchSize(c)
	if !ok {
		return
	}

	summary, err := a.bridge.ProcessBatch(c.Request.Context(), middleware.UserID(c), size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (a Api) TriggerSync(c *gin.Context) {
	size, ok := batchSize(c)
	if !ok {
		return
	}

	enqueued, err := a.bridge.TriggerSync(c.Request.Context(), middleware.UserID(c), size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

func (a Api) GetStatus(c *gin.Context) {
	status, err := a.bridge.GetStatus(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (a Api) ListQueueItems(c *gin.Context) {
	var query model2.QueueItemsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := query.ValidateQueueItemsQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	items, err := a.bridge.ListQueueItems(c.Request.Context(), middleware.UserID(c), query.QueueStatus(), query.Limit, query.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (a Api) GetQueueItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	item, err := a.bridge.GetQueueItem(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (a Api) RetryFailed(c *gin.Context) {
	reset, err := a.bridge.RetryFailed(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": reset})
}

func (a Api) RecoverStuckItems(c *gin.Context) {
	summary, err := a.bridge.RecoverStuckItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
