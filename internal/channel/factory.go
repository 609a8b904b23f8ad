//go:build !debug

package channel

// New returns the channel used in production builds: buffered, so the
// transport read loop can run ahead of the pump.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
