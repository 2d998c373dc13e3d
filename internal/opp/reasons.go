package opp

// AdapterEventKind identifies a device-level driver event.
type AdapterEventKind int

const (
	EventRadioInit AdapterEventKind = iota + 1
	EventRadioShutdown
	EventDeviceAdded
	EventDeviceRemoved
	EventDeviceConnected
	EventDeviceDisconnected
	EventPairingComplete
	EventAccessChanged
)

var eventNames = map[AdapterEventKind]string{
	EventRadioInit:          "Radio initialised",
	EventRadioShutdown:      "Radio shut down",
	EventDeviceAdded:        "Device added",
	EventDeviceRemoved:      "Device removed",
	EventDeviceConnected:    "Device connected",
	EventDeviceDisconnected: "Device disconnected",
	EventPairingComplete:    "Pairing complete",
	EventAccessChanged:      "Access changed",
}

// String returns the display label, or "Unknown Event" for codes outside the set.
func (k AdapterEventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "Unknown Event"
}

// CancelReason explains why a push ended without completing.
type CancelReason int

const (
	CancelDeviceNotAvailable CancelReason = iota + 1
	CancelUserCancelled
	CancelRejected
	CancelFileAccess
	CancelFileTooLarge
	CancelConnectionLost
	CancelFailed
)

var reasonNames = map[CancelReason]string{
	CancelDeviceNotAvailable: "Device not available",
	CancelUserCancelled:      "Cancelled by user",
	CancelRejected:           "Rejected by remote device",
	CancelFileAccess:         "File access error",
	CancelFileTooLarge:       "File too large",
	CancelConnectionLost:     "Connection lost",
	CancelFailed:             "Transfer failed",
}

// String returns the display label, or "Unknown Reason" for codes outside the set.
func (r CancelReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "Unknown Reason"
}
