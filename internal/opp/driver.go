// Package opp controls a Bluetooth Object Push Profile driver: it owns the
// adapter initialised state, forwards toggle and send commands to the driver
// and turns driver callbacks into user-facing notifications.
package opp

// Driver abstracts the Bluetooth device/OPP stack.
type Driver interface {
	// Init brings the adapter up and registers h for asynchronous callbacks.
	// Callbacks may arrive on any goroutine until Deinit returns.
	Init(h Handler) error
	// Deinit releases the adapter. It is assumed to always succeed.
	Deinit()
	// SendFile starts pushing the file at path to the device at address.
	// Progress is reported through the Handler given to Init.
	SendFile(address, path string) error
}

// Handler receives driver callbacks. It is passed explicitly to Driver.Init.
type Handler interface {
	HandleDeviceEvent(ev DeviceEvent)
	HandleTransferEvent(ev TransferEvent)
}

// TransferRequest names one outgoing push.
type TransferRequest struct {
	Address string
	Path    string
}

// DeviceEvent is a connection-level event reported by the driver.
type DeviceEvent struct {
	Kind    AdapterEventKind
	Address string
	Data    string
}

// TransferKind tags a TransferEvent.
type TransferKind int

const (
	TransferProgress TransferKind = iota
	TransferCompleted
	TransferCancelled
)

// TransferEvent reports the state of one outgoing push.
// Sent and Total are only set for TransferProgress, Reason only for
// TransferCancelled.
type TransferEvent struct {
	Kind    TransferKind
	Address string
	Sent    uint64
	Total   uint64
	Reason  CancelReason
}

// Progress builds a TransferProgress event.
func Progress(address string, sent, total uint64) TransferEvent {
	return TransferEvent{Kind: TransferProgress, Address: address, Sent: sent, Total: total}
}

// Completed builds a TransferCompleted event.
func Completed(address string) TransferEvent {
	return TransferEvent{Kind: TransferCompleted, Address: address}
}

// Cancelled builds a TransferCancelled event.
func Cancelled(address string, reason CancelReason) TransferEvent {
	return TransferEvent{Kind: TransferCancelled, Address: address, Reason: reason}
}
