package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// RequestID is the context key for the per-request id set by the logger.
	RequestID contextKey = "requestID"
	// QRMount is the context key for the verified QR container data.
	QRMount contextKey = "qrMount"
)
