package enums

import "fmt"

// OutboxDLQErrorReason records why an outbox event was parked in the DLQ.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonUnroutable: no topic or payload decoder for the event.
	OutboxDLQReasonUnroutable   OutboxDLQErrorReason = "unroutable"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonUnroutable, OutboxDLQReasonNonRetryable, OutboxDLQReasonMaxAttempts:
		return true
	}
	return false
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	r := OutboxDLQErrorReason(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid outbox dlq reason %q", value)
	}
	return r, nil
}
