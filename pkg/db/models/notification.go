package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to a user+role.
// It is a pure observer record: creating one never mutates order or stock
// state, and it remains the durable source of truth when the realtime
// channel drops a publish.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Role      enums.Role             `gorm:"column:role;type:text;not null"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null"`
	Message   string                 `gorm:"column:message;not null"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
