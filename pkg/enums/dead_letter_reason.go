package enums

// DeadLetterReason classifies why an event left the delivery channel.
type DeadLetterReason string

const (
	// DeadLetterReasonMalformed marks payloads that can never be processed;
	// they skip the retry budget entirely.
	DeadLetterReasonMalformed DeadLetterReason = "malformed"
	// DeadLetterReasonRetriesExhausted marks events whose delivery count
	// exceeded the configured budget.
	DeadLetterReasonRetriesExhausted DeadLetterReason = "retries_exhausted"
)
