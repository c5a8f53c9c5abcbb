package log

// Canonical field names for structured logging.
const (
	FieldComponent      = "component"
	FieldEvent          = "event"
	FieldJobID          = "job_id"
	FieldSubscriptionID = "subscription_id"
	FieldRequestID      = "request_id"

	FieldStatus  = "status"
	FieldStep    = "processing_step"
	FieldAttempt = "attempt"
	FieldDelay   = "delay"
	FieldCount   = "count"
	FieldURL     = "url"
)
