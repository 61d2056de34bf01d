package store

import (
	"time"

	"gorm.io/datatypes"
)

// RecordModel is the GORM model behind the employee_churn table.
type RecordModel struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement"`
	EmployeeID            string     `gorm:"not null;index"`
	JoiningDate           *time.Time `gorm:"type:date"`
	ExitDate              *time.Time `gorm:"type:date"`
	Department            *string    `gorm:"index"`
	LastPerformanceRating *float64
	Salary                *float64
	ExitReason            *string
	ChurnFlag             bool   `gorm:"not null;default:false"`
	SourceFile            string `gorm:"not null"`
	ObjectKey             string
	ProcessingStatus      string         `gorm:"not null;default:PENDING;index"`
	Extracted             datatypes.JSON `gorm:"type:jsonb"`
	UploadTimestamp       time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt             time.Time
}

func (RecordModel) TableName() string {
	return "employee_churn"
}
