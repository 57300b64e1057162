package delivery

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptRecord is one append-only row per pipeline attempt, successful or not.
type AttemptRecord struct {
	ID                uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	CorrelationID     string         `gorm:"column:correlation_id;type:varchar(255);index;not null"`
	ProductCode       string         `gorm:"column:product_code;type:varchar(100);index;not null"`
	TemplateCode      string         `gorm:"column:template_code;type:varchar(100);not null"`
	Channel           string         `gorm:"column:channel;type:varchar(10);not null"`
	Provider          *string        `gorm:"column:provider;type:varchar(50)"`
	Recipient         string         `gorm:"column:recipient;type:varchar(255);not null"`
	Status            string         `gorm:"column:status;type:varchar(20);not null"`
	ProviderMessageID *string        `gorm:"column:provider_message_id;type:varchar(255)"`
	Variables         datatypes.JSON `gorm:"column:variables;type:jsonb"`
	ErrorMessage      *string        `gorm:"column:error_message;type:text"`
	Attempts          int            `gorm:"column:attempts;type:int;default:1;not null"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (AttemptRecord) TableName() string {
	return "message_log"
}
