package phonenfc

import "time"

// Device timing constants
const (
	DeviceTimeout   = 30 * time.Second // Device inactivity timeout
	CleanupInterval = 15 * time.Second // Cleanup check interval
	WriteTimeout    = 5 * time.Second  // WebSocket write deadline
	RequestTimeout  = 60 * time.Second // Default wait for write and auth replies
)

// Invalidation reasons reported for sessions the phone never closed.
const (
	ReasonDisconnected = "Phone disconnected"
	ReasonTimedOut     = "Phone stopped responding"
)
