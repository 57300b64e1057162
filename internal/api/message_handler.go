package api

import (
	"context"
	"net/http"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/jobs"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const queuedStatus = "QUEUED"

type JobPublisher interface {
	Publish(ctx context.Context, req message.Request) (string, error)
}

type JobStatusReader interface {
	Get(ctx context.Context, id string) (*jobs.Status, error)
}

type PipelineReporter interface {
	Report(ctx context.Context, c *catalog.Catalog) (map[string][]pipeline.Status, error)
}

type sendRequest struct {
	ProductCode  string         `json:"productCode"  binding:"required,alpha,uppercase"`
	Channel      string         `json:"channel"      binding:"required"`
	TemplateCode string         `json:"templateCode" binding:"required"`
	To           string         `json:"to"           binding:"required"`
	Variables    map[string]any `json:"variables"    binding:"required"`
}

type SendResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

type MessageHandler struct {
	Catalog     *catalog.Catalog
	Publisher   JobPublisher
	Jobs        JobStatusReader
	Pipelines   PipelineReporter
	Idempotency *IdempotencyStore
}

func (h *MessageHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/send", h.Send)
	r.GET("/jobs/:id", h.GetJob)
	r.GET("/status", h.Status)
}

// Send validates the request and queues it. A repeated Idempotency-Key returns the
// first response without queueing again.
func (h *MessageHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.GetHeader(IdempotencyHeader)

	if key != "" && h.Idempotency != nil {
		cached, err := h.Idempotency.Get(ctx, key)
		if err != nil {
			respondError(c, err)
			return
		}

		if cached != nil {
			logging.Logger.Info("Idempotent request, returning cached response",
				zap.String("idempotency_key", key),
				zap.String("correlation_id", correlationID(c)),
			)
			c.JSON(http.StatusOK, cached)

			return
		}
	}

	var body sendRequest

	err := c.ShouldBindJSON(&body)
	if err != nil {
		respondError(c, message.New(message.CodeValidation, "Invalid request body", err.Error()))
		return
	}

	channel, err := message.ParseChannel(body.Channel)
	if err != nil {
		respondError(c, err)
		return
	}

	jobID, err := h.Publisher.Publish(ctx, message.Request{
		ProductCode:   body.ProductCode,
		Channel:       channel,
		TemplateCode:  body.TemplateCode,
		Recipient:     body.To,
		Variables:     body.Variables,
		CorrelationID: correlationID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := SendResponse{
		Success:       true,
		JobID:         jobID,
		Status:        queuedStatus,
		CorrelationID: correlationID(c),
	}

	if key != "" && h.Idempotency != nil {
		err = h.Idempotency.Save(ctx, key, resp)
		if err != nil {
			logging.Logger.Error("Failed to cache idempotent response",
				zap.String("idempotency_key", key),
				zap.String("error", err.Error()),
			)
		}
	}

	logging.Logger.Info("Message queued",
		zap.String("job_id", jobID),
		zap.String("correlation_id", resp.CorrelationID),
		zap.String("product_code", body.ProductCode),
	)

	c.JSON(http.StatusAccepted, resp)
}

func (h *MessageHandler) GetJob(c *gin.Context) {
	status, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *MessageHandler) Status(c *gin.Context) {
	report, err := h.Pipelines.Report(c.Request.Context(), h.Catalog)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
