package ir

// Version constants for the wire format and the bridge.
const (
	// IRVersion is the record and update schema version.
	IRVersion = "1"

	// BridgeVersion is the mudbridge release version.
	BridgeVersion = "0.1.0"
)
