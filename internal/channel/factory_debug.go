//go:build debug

package channel

// New returns an unbuffered channel in debug builds, ignoring size, so
// every handoff is a rendezvous and ordering bugs surface immediately.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
