package enums

// OutboxEventType identifies domain events written to the transactional outbox.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order.created"
	EventOrderStatusChanged OutboxEventType = "order.status_changed"
	EventOrderCancelled     OutboxEventType = "order.cancelled"
	EventPaymentSettled     OutboxEventType = "payment.settled"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

// OutboxDLQErrorReason classifies why an outbox row was dead-lettered.
type OutboxDLQErrorReason string

const (
	DLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	DLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts_exceeded"
)
