package models

import (
	"time"

	"github.com/pottery-backend/pottery/internal/types"
)

type Submission struct {
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	RepoID            string                 `gorm:"primaryKey;type:text" json:"repoId"`
	Tag               string                 `gorm:"primaryKey;type:text" json:"tag"`
	Status            types.SubmissionStatus `gorm:"type:text"            json:"status"`
	CompilationOutput string                 `json:"compilationOutput"`
	SummaryMessage    string                 `json:"summaryMessage"`
	TestSteps         []types.TestStep       `gorm:"type:jsonb;serializer:json" json:"testSteps"`
	CompilationTimeMs int64                  `json:"compilationTimeMs"`
	HarnessTimeMs     int64                  `json:"harnessTimeMs"`
	ValidatorTimeMs   int64                  `json:"validatorTimeMs"`
	WaitTimeMs        int64                  `json:"waitTimeMs"`
}

func (Submission) TableName() string {
	return "submissions"
}
