package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/gin-gonic/gin"
)

type dlqListQuery struct {
	Channel     string `form:"channel"`
	ProductCode string `form:"productCode"`
	Limit       int    `form:"limit"       binding:"gte=0"`
	Offset      int    `form:"offset"      binding:"gte=0"`
}

type replayBatchRequest struct {
	Channel     string `json:"channel"`
	ProductCode string `json:"productCode"`
	All         bool   `json:"all"`
}

type DeadLetterHandler struct {
	Service *deadletter.DeadLetterService
}

func (h *DeadLetterHandler) RegisterRoutes(r *gin.RouterGroup) {
	dlq := r.Group("/dlq")
	{
		dlq.GET("", h.List)
		dlq.DELETE("", h.Clear)
		dlq.GET("/count", h.Count)
		dlq.GET("/analytics", h.Analytics)
		dlq.GET("/health", h.Health)
		dlq.POST("/replay", h.ReplayBatch)
		dlq.GET("/:id", h.Get)
		dlq.DELETE("/:id", h.Delete)
		dlq.POST("/:id/replay", h.Replay)
	}
}

func parseFilter(channel, productCode string) (deadletter.Filter, error) {
	filter := deadletter.Filter{ProductCode: productCode}

	if channel != "" {
		parsed, err := message.ParseChannel(channel)
		if err != nil {
			return deadletter.Filter{}, err
		}

		filter.Channel = parsed
	}

	return filter, nil
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	var query dlqListQuery

	err := c.ShouldBindQuery(&query)
	if err != nil {
		respondError(c, message.New(message.CodeValidation, "Invalid query", err.Error()))
		return
	}

	filter, err := parseFilter(query.Channel, query.ProductCode)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.Service.Store.List(c.Request.Context(), filter, query.Limit, query.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(page))
}

func (h *DeadLetterHandler) Count(c *gin.Context) {
	count, err := h.Service.Store.Count(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

// Get looks the message up in the live list first, then in the archive.
func (h *DeadLetterHandler) Get(c *gin.Context) {
	result, err := h.Service.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(result))
}

func (h *DeadLetterHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	deleted, err := h.Service.Store.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if !deleted {
		respondError(c, message.New(message.CodeNotFound, fmt.Sprintf("message %s not found in DLQ", id), nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "correlationId": id})
}

func (h *DeadLetterHandler) Clear(c *gin.Context) {
	cleared, err := h.Service.Store.Clear(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": cleared})
}

func (h *DeadLetterHandler) Replay(c *gin.Context) {
	result, err := h.Service.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(result))
}

// ReplayBatch replays entries matching the body filter. An empty body or "all": true
// replays the whole list.
func (h *DeadLetterHandler) ReplayBatch(c *gin.Context) {
	var body replayBatchRequest

	err := c.ShouldBindJSON(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(c, message.New(message.CodeValidation, "Invalid request body", err.Error()))
		return
	}

	filter := deadletter.Filter{}

	if !body.All {
		filter, err = parseFilter(body.Channel, body.ProductCode)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	result, err := h.Service.ReplayBatch(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(result))
}

func (h *DeadLetterHandler) Analytics(c *gin.Context) {
	analytics, err := h.Service.Analytics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(analytics))
}

func (h *DeadLetterHandler) Health(c *gin.Context) {
	health, err := h.Service.Health(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSuccessResponse(health))
}
