package models

import (
	"time"
)

type Repo struct {
	CreatedAt           time.Time
	ExpiryDate          time.Time
	ID                  string `gorm:"primaryKey;type:text"`
	TaskID              string
	Remote              string
	UsingTestingVersion bool
}

func (Repo) TableName() string {
	return "repos"
}

func (r Repo) Expired(now time.Time) bool {
	return !now.Before(r.ExpiryDate)
}
