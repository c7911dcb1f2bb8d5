package ir

// Version constants for the trace format and the framework.
const (
	// TraceVersion is the trace record schema version.
	TraceVersion = "1"

	// Version is the Marty framework version.
	Version = "0.1.0"
)
