package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/gin-gonic/gin"
)

const defaultStatisticsDays = 30

type ArchiveReader interface {
	FindAll(ctx context.Context, query archive.Query) ([]archive.ArchivedMessage, error)
	Statistics(ctx context.Context, since time.Time) ([]archive.Statistic, error)
}

type archiveListQuery struct {
	Channel     string `form:"channel"`
	ProductCode string `form:"productCode"`
	StartDate   string `form:"startDate"`
	EndDate     string `form:"endDate"`
	Limit       int    `form:"limit"       binding:"gte=0"`
	Offset      int    `form:"offset"      binding:"gte=0"`
}

type statisticsQuery struct {
	Days int `form:"days" binding:"gte=0"`
}

type ArchiveHandler struct {
	Archive ArchiveReader
	Now     func() time.Time
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	archived := r.Group("/archive")
	{
		archived.GET("", h.List)
		archived.GET("/statistics", h.Statistics)
	}
}

// parseDate accepts RFC 3339 timestamps and plain dates; "" yields nil.
func parseDate(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		t, err := time.Parse(layout, value)
		if err == nil {
			return &t, nil
		}
	}

	return nil, message.New(message.CodeValidation, fmt.Sprintf("invalid %s: %s", name, value), nil)
}

func (h *ArchiveHandler) List(c *gin.Context) {
	var query archiveListQuery

	err := c.ShouldBindQuery(&query)
	if err != nil {
		respondError(c, message.New(message.CodeValidation, "Invalid query", err.Error()))
		return
	}

	start, err := parseDate("startDate", query.StartDate)
	if err != nil {
		respondError(c, err)
		return
	}

	end, err := parseDate("endDate", query.EndDate)
	if err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.Archive.FindAll(c.Request.Context(), archive.Query{
		Channel:     query.Channel,
		ProductCode: query.ProductCode,
		StartDate:   start,
		EndDate:     end,
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if messages == nil {
		messages = []archive.ArchivedMessage{}
	}

	c.JSON(http.StatusOK, NewSuccessResponse(messages))
}

func (h *ArchiveHandler) Statistics(c *gin.Context) {
	var query statisticsQuery

	err := c.ShouldBindQuery(&query)
	if err != nil {
		respondError(c, message.New(message.CodeValidation, "Invalid query", err.Error()))
		return
	}

	if query.Days == 0 {
		query.Days = defaultStatisticsDays
	}

	since := h.now().Add(-time.Duration(query.Days) * 24 * time.Hour)

	stats, err := h.Archive.Statistics(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}

	if stats == nil {
		stats = []archive.Statistic{}
	}

	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{
		"period":     fmt.Sprintf("%d days", query.Days),
		"statistics": stats,
	}))
}

func (h *ArchiveHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}

	return h.Now()
}
