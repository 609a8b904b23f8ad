package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffered_TrySend(t *testing.T) {
	c := NewBuffered[int](2)

	assert.True(t, c.TrySend(1))
	assert.True(t, c.TrySend(2))
	assert.False(t, c.TrySend(3), "full buffer must shed, not block")
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, 1, <-c.Receive())
	assert.True(t, c.TrySend(3))
}

func TestUnbuffered_TrySendWithoutReceiver(t *testing.T) {
	c := NewUnbuffered[int]()
	assert.False(t, c.TrySend(1))
}

func TestBuffered_SendReceiveOrder(t *testing.T) {
	c := New[string](4)
	c.Send("a")
	c.Send("b")
	c.Close()

	var got []string
	for v := range c.Receive() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
