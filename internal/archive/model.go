package archive

import (
	"time"

	"gorm.io/datatypes"
)

// ArchivedMessage is a dead-letter entry moved to cold storage.
type ArchivedMessage struct {
	ID            uint64         `gorm:"column:id;primaryKey;autoIncrement"          json:"id"`
	CorrelationID string         `gorm:"column:correlation_id;type:varchar(255);index;not null" json:"correlationId"`
	ProductCode   string         `gorm:"column:product_code;type:varchar(100);index;not null"   json:"productCode"`
	Channel       string         `gorm:"column:channel;type:varchar(10);index;not null"         json:"channel"`
	TemplateCode  string         `gorm:"column:template_code;type:varchar(100);not null"        json:"templateCode"`
	Recipient     string         `gorm:"column:recipient;type:varchar(255);not null"            json:"recipient"`
	Variables     datatypes.JSON `gorm:"column:variables;type:jsonb"                            json:"variables"`
	ErrorMessage  string         `gorm:"column:error_message;type:text"                         json:"errorMessage"`
	FailureCount  int            `gorm:"column:failure_count;type:int;default:0;not null"       json:"failureCount"`
	FirstFailedAt time.Time      `gorm:"column:first_failed_at;not null"                        json:"firstFailedAt"`
	LastFailedAt  time.Time      `gorm:"column:last_failed_at;not null"                         json:"lastFailedAt"`
	ArchivedAt    time.Time      `gorm:"column:archived_at;index;autoCreateTime"                json:"archivedAt"`
}

func (ArchivedMessage) TableName() string {
	return "archived_messages"
}

type Query struct {
	Channel     string
	ProductCode string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

// Statistic aggregates archived failures per channel and product.
type Statistic struct {
	Channel          string  `gorm:"column:channel"            json:"channel"`
	ProductCode      string  `gorm:"column:product_code"       json:"productCode"`
	TotalFailures    int64   `gorm:"column:total_failures"     json:"totalFailures"`
	AvgRetries       float64 `gorm:"column:avg_retries"        json:"avgRetries"`
	DaysWithFailures int64   `gorm:"column:days_with_failures" json:"daysWithFailures"`
}
