package vio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/waiter"
)

func TestAcquireUpToCapacitySucceeds(t *testing.T) {
	p := NewPool(2, 64)

	v1, ok := p.Acquire(waiter.Func(func(error) {}))
	require.True(t, ok)
	v2, ok := p.Acquire(waiter.Func(func(error) {}))
	require.True(t, ok)
	assert.NotSame(t, v1, v2)

	assert.Equal(t, 2, p.Outstanding())
}

func TestAcquireBeyondCapacityEnqueuesWaiter(t *testing.T) {
	p := NewPool(1, 64)

	_, ok := p.Acquire(waiter.Func(func(error) {}))
	require.True(t, ok)

	notified := false
	_, ok = p.Acquire(waiter.Func(func(err error) {
		notified = true
		assert.NoError(t, err)
	}))
	assert.False(t, ok)
	assert.False(t, notified)
}

func TestReleaseWakesQueuedWaiter(t *testing.T) {
	p := NewPool(1, 64)

	v1, _ := p.Acquire(waiter.Func(func(error) {}))

	var gotVIO *VIO
	p.Acquire(waiter.Func(func(err error) {
		require.NoError(t, err)
		v, ok := p.Acquire(waiter.Func(func(error) {}))
		require.True(t, ok)
		gotVIO = v
	}))

	p.Release(v1)
	assert.NotNil(t, gotVIO)
}

func TestVIOReadWriteRoundTrip(t *testing.T) {
	p := NewPool(1, 16)
	v, ok := p.Acquire(waiter.Func(func(error) {}))
	require.True(t, ok)

	n, err := v.Write([]byte("hello world!!!!!"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	got, err := v.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world!!!!!"), got)
}
