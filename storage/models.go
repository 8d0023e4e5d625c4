package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Submission logs every order accepted by (or rejected from) the upstream
// order engine. Unsubmitted drafts are never persisted.
type Submission struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Wallet    string    `gorm:"size:64;index"`
	Platform  string    `gorm:"size:16"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"size:16;index"`
	Error     string    `gorm:"size:512"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Submission statuses.
const (
	SubmissionAccepted = "ACCEPTED"
	SubmissionFailed   = "FAILED"
)

// PendingTransaction mirrors the on-chain transactions the monitor watches.
// Persisting them keeps in-flight transactions visible across restarts.
type PendingTransaction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Hash       string    `gorm:"size:66;uniqueIndex"`
	Kind       string    `gorm:"size:16"`
	Status     string    `gorm:"size:16;index"`
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// PriceSnapshot records one symbol observation from a refresh cycle.
type PriceSnapshot struct {
	ID         uint   `gorm:"primaryKey"`
	Symbol     string `gorm:"size:16;index"`
	Price      float64
	Change24h  float64
	ObservedAt time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Submission{},
		&PendingTransaction{},
		&PriceSnapshot{},
	)
}
