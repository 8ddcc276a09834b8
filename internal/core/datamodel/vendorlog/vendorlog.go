package vendorlog

import (
	"time"

	"gorm.io/datatypes"
)

type VendorCallLog struct {
	ID             int64          `gorm:"primaryKey"`
	Endpoint       string         `gorm:"column:endpoint;not null"`
	OrderID        string         `gorm:"column:order_id;index"`
	RequestHeaders datatypes.JSON `gorm:"column:request_headers"`
	RequestBody    string         `gorm:"column:request_body"`
	StatusCode     int            `gorm:"column:status_code"`
	RawResponse    string         `gorm:"column:raw_response"`
	DecryptedText  string         `gorm:"column:decrypted_text"`
	DecryptedJSON  datatypes.JSON `gorm:"column:decrypted_json"`
	Outcome        string         `gorm:"column:outcome"`
	Error          string         `gorm:"column:error"`
	DurationMs     int64          `gorm:"column:duration_ms"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
}

func (VendorCallLog) TableName() string {
	return "vendor_call_logs"
}
