package models

import (
	"time"

	"gorm.io/datatypes"
)

type Task struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ID                 string `gorm:"primaryKey;type:text"`
	Remote             string
	RegisteredRevision datatypes.Null[string]
	// Copy directories reused on start-up instead of rebuilding
	TestingCopyID    datatypes.Null[string]
	RegisteredCopyID datatypes.Null[string]
	Retired          bool
}

func (Task) TableName() string {
	return "tasks"
}
