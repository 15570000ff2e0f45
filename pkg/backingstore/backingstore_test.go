package backingstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFile(filepath.Join(dir, "store.bin"), 4096)
	require.NoError(t, err)
	defer dev.Close()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}

	require.NoError(t, dev.WriteBlockAt(3, data))
	got, err := dev.ReadBlockAt(3)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileReadBeforeWriteReturnsZeroedBlock(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFile(filepath.Join(dir, "store.bin"), 512)
	require.NoError(t, err)
	defer dev.Close()

	got, err := dev.ReadBlockAt(0)
	require.NoError(t, err)
	assert.Len(t, got, 512)
	for _, b := range got {
		assert.Zero(t, b)
	}
}

func TestFileWriteRejectsWrongSizedBlock(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFile(filepath.Join(dir, "store.bin"), 4096)
	require.NoError(t, err)
	defer dev.Close()

	err = dev.WriteBlockAt(0, make([]byte, 10))
	assert.Error(t, err)
}

func TestQCOW2WriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	dev, err := CreateQCOW2(filepath.Join(dir, "image.qcow2"), 4096, 64)
	require.NoError(t, err)
	defer dev.Close()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 200)
	}

	require.NoError(t, dev.WriteBlockAt(5, data))
	got, err := dev.ReadBlockAt(5)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 4096, dev.BlockSize())
}

func TestQCOW2ReadBeforeWriteReturnsZeroedBlock(t *testing.T) {
	dir := t.TempDir()
	dev, err := CreateQCOW2(filepath.Join(dir, "image.qcow2"), 4096, 8)
	require.NoError(t, err)
	defer dev.Close()

	got, err := dev.ReadBlockAt(2)
	require.NoError(t, err)
	assert.Len(t, got, 4096)
}
