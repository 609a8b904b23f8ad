// Package channel provides generic channel interfaces for decoupled
// communication between the transport, the pump and the dispatcher.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// TrySend delivers without blocking and reports whether the value was
	// accepted. The transport read loop uses this so a stalled consumer
	// sheds pushes instead of stalling the socket.
	TrySend(T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}
