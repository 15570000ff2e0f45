package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/blockmap"
	"github.com/vdo-go/depot/pkg/slab"
)

type waiterFunc func(err error)

func (f waiterFunc) Notify(err error) { f(err) }

func TestGetPageMissReturnsError(t *testing.T) {
	c := NewMemory()
	_, err := c.GetPage(slab.PBN(5))
	assert.Error(t, err)
}

func TestPutThenGetReturnsSamePage(t *testing.T) {
	c := NewMemory()
	p := blockmap.NewPage(slab.PBN(5), 1)
	require.NoError(t, c.PutPage(5, p))

	got, err := c.GetPage(5)
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestEnqueueWaiterForResidentPageFiresImmediately(t *testing.T) {
	c := NewMemory()
	require.NoError(t, c.PutPage(5, blockmap.NewPage(5, 1)))

	fired := false
	c.EnqueueWaiterForPage(5, waiterFunc(func(err error) { fired = true }))
	assert.True(t, fired)
}

func TestEnqueueWaiterForMissingPageFiresOnPut(t *testing.T) {
	c := NewMemory()

	fired := false
	c.EnqueueWaiterForPage(5, waiterFunc(func(err error) {
		require.NoError(t, err)
		fired = true
	}))
	assert.False(t, fired, "must not fire before the page arrives")

	require.NoError(t, c.PutPage(5, blockmap.NewPage(5, 1)))
	assert.True(t, fired)
}
