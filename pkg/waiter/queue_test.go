package waiter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueIsEmptyIffNoEntries(t *testing.T) {
	var q Queue
	assert.True(t, q.IsEmpty())

	q.Enqueue(Func(func(error) {}))
	assert.False(t, q.IsEmpty())
}

func TestNotifyNextIsFIFO(t *testing.T) {
	var q Queue
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.Enqueue(Func(func(error) { order = append(order, i) }))
	}

	for i := 0; i < 3; i++ {
		ok := q.NotifyNext(nil)
		assert.True(t, ok)
	}
	assert.False(t, q.NotifyNext(nil))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestNotifyAllDrainsQueueAndPropagatesError(t *testing.T) {
	var q Queue
	errReadOnly := errors.New("read only")
	var got []error
	for i := 0; i < 3; i++ {
		q.Enqueue(Func(func(err error) { got = append(got, err) }))
	}

	q.NotifyAll(errReadOnly)
	assert.True(t, q.IsEmpty())
	assert.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, errReadOnly, e)
	}
}
