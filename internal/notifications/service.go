package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
)

// Input describes one notification to deliver.
type Input struct {
	UserID  uuid.UUID
	Role    enums.Role
	Type    enums.NotificationType
	Message string
	OrderID *uuid.UUID
}

// Service persists notifications and pushes best-effort realtime copies.
// The database row is the durable record; a dropped realtime publish is
// logged and forgotten.
type Service interface {
	Notify(ctx context.Context, input Input) (*models.Notification, error)
	NotifyAll(ctx context.Context, inputs []Input)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type service struct {
	repo      Repository
	publisher realtime.Publisher
	logg      *logger.Logger
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository, publisher realtime.Publisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{repo: repo, publisher: publisher, logg: logg}, nil
}

// Notify persists the notification and publishes a realtime copy to the
// recipient's role channel.
func (s *service) Notify(ctx context.Context, input Input) (*models.Notification, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid role required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid notification type required")
	}
	if strings.TrimSpace(input.Message) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message required")
	}

	notification := &models.Notification{
		ID:      uuid.New(),
		UserID:  input.UserID,
		Role:    input.Role,
		Type:    input.Type,
		Message: input.Message,
		OrderID: input.OrderID,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert notification")
	}

	topic := realtime.RoleTopic(input.Role.String(), input.UserID)
	if err := s.publisher.Publish(ctx, topic, "notification", notification); err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"notification_id": notification.ID.String(),
			"topic":           topic,
		})
		s.logg.Error(logCtx, "realtime notification publish failed", err)
	}

	return notification, nil
}

// NotifyAll delivers a batch, aggregating per-recipient failures. A failed
// recipient never fails the caller's operation.
func (s *service) NotifyAll(ctx context.Context, inputs []Input) {
	var errs error
	for _, input := range inputs {
		if _, err := s.Notify(ctx, input); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil && s.logg != nil {
		s.logg.Error(ctx, "notification fan-out partially failed", errs)
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID:     params.UserID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}
