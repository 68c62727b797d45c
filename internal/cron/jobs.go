package cron

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// retentionCutoff is the shared cutoff arithmetic for day-based cleanup
// jobs.
func retentionCutoff(now time.Time, days int) time.Time {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
}
