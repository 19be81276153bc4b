package types

type ContextKey string

const (
	ContextKeyInvocationID  ContextKey = "invocation_id"
	ContextKeyMode          ContextKey = "mode"
	ContextKeyIntervalID    ContextKey = "interval_id"
	ContextKeyRequestSource ContextKey = "request_source"
)
