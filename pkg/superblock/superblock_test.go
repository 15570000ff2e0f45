package superblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

func testSuperBlock() SuperBlock {
	return SuperBlock{
		ReleaseVersion:       7,
		VersionMajor:         1,
		VersionMinor:         0,
		VDOComponent:         []byte("vdo-component"),
		FixedLayout:          []byte("fixed-layout"),
		RecoveryJournalState: []byte("recovery-journal-state"),
		SlabDepotState:       []byte("slab-depot-state"),
		BlockMapState:        []byte("block-map-state"),
	}
}

func TestSuperBlockEncodeDecodeRoundTrip(t *testing.T) {
	s := testSuperBlock()
	buf, err := s.Encode()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(buf), SectorSize)

	got, err := Decode(buf, s.ReleaseVersion)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSuperBlockDecodeRejectsReleaseVersionMismatch(t *testing.T) {
	s := testSuperBlock()
	buf, err := s.Encode()
	require.NoError(t, err)

	_, err = Decode(buf, s.ReleaseVersion+1)
	assert.ErrorIs(t, err, vdoerr.ErrParameterMismatch)
}

func TestSuperBlockDecodeDetectsTornByte(t *testing.T) {
	s := testSuperBlock()
	buf, err := s.Encode()
	require.NoError(t, err)

	buf[0] ^= 0xFF
	_, err = Decode(buf, s.ReleaseVersion)
	assert.ErrorIs(t, err, vdoerr.ErrChecksumMismatch)
}

func TestSuperBlockEncodeRejectsOversizedPayload(t *testing.T) {
	s := testSuperBlock()
	s.VDOComponent = make([]byte, SectorSize*2)
	_, err := s.Encode()
	assert.Error(t, err)
}

func TestComponentEncodeDecodeRoundTrip(t *testing.T) {
	buf, err := EncodeComponent(ComponentSlabDepot, 2, 0, []byte("payload"))
	require.NoError(t, err)

	c, remainder, err := DecodeComponent(buf, ComponentSlabDepot, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), c.Payload)
	assert.Empty(t, remainder)
}

func TestComponentDecodeRejectsWrongID(t *testing.T) {
	buf, err := EncodeComponent(ComponentSlabDepot, 2, 0, []byte("x"))
	require.NoError(t, err)
	_, _, err = DecodeComponent(buf, ComponentBlockMap, 2, 0)
	assert.Error(t, err)
}

func TestComponentDecodeRejectsWrongVersion(t *testing.T) {
	buf, err := EncodeComponent(ComponentSlabDepot, 2, 0, []byte("x"))
	require.NoError(t, err)
	_, _, err = DecodeComponent(buf, ComponentSlabDepot, 3, 0)
	assert.Error(t, err)
}

func TestGeometryEncodeDecodeRoundTrip(t *testing.T) {
	g := NewGeometry(7, 0xABC123)
	buf, err := g.Encode()
	require.NoError(t, err)

	got, err := DecodeGeometry(buf)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestGeometryDecodeDetectsTornByte(t *testing.T) {
	g := NewGeometry(7, 1)
	buf, err := g.Encode()
	require.NoError(t, err)

	buf[2] ^= 0xFF
	_, err = DecodeGeometry(buf)
	assert.Error(t, err)
}
