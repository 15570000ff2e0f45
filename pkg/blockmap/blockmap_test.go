package blockmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/slab"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{State: MappingStateUncompressed, PBN: slab.PBN(0xABCDEF123)}
	got := DecodeEntry(e.Encode())
	assert.Equal(t, e, got)
}

func TestEntryIsMapped(t *testing.T) {
	assert.False(t, Entry{}.IsMapped())
	assert.False(t, Entry{State: MappingStateUnmapped, PBN: 5}.IsMapped())
	assert.True(t, Entry{State: MappingStateUncompressed, PBN: 5}.IsMapped())
}

func TestPageEncodeDecodeRoundTrip(t *testing.T) {
	p := NewPage(slab.PBN(7), 99)
	p.Header.Initialized = true
	require.NoError(t, p.Set(0, Entry{State: MappingStateUncompressed, PBN: 42}))
	require.NoError(t, p.Set(EntriesPerPage-1, Entry{State: MappingStateCompressed, PBN: 1000}))

	buf := p.Encode()
	got, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, p.Header, got.Header)
	assert.Equal(t, p.Entries, got.Entries)
}

func TestSetRejectsOutOfRangeSlot(t *testing.T) {
	p := NewPage(0, 0)
	assert.Error(t, p.Set(-1, Entry{}))
	assert.Error(t, p.Set(EntriesPerPage, Entry{}))
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]byte, 100))
	assert.Error(t, err)
}
