// Package superblock implements the super-block codec and geometry block
// (spec §4.9, §6): little-endian packed encoding with checksum, version
// validation, and per-component header framing, in the style the teacher
// uses for fixed on-disk structures in pkg/ext4 — encoding/binary against
// a bytes.Buffer rather than hand-rolled bit-twiddling.
package superblock

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

// SectorSize bounds the super-block's total encoding: it "must fit within
// one sector to tolerate torn writes" (spec §4.9).
const SectorSize = 512

// ComponentID identifies a super-block subrecord's contents, checked on
// decode against the caller's expectation (spec §4.9: "header id").
type ComponentID uint32

const (
	ComponentVDO ComponentID = iota
	ComponentFixedLayout
	ComponentRecoveryJournal
	ComponentSlabDepot
	ComponentBlockMap
)

// ComponentHeader is the fixed preamble of every super-block subrecord:
// `{id, {major, minor}, payload_size}` (spec §4.9).
type ComponentHeader struct {
	ID           ComponentID
	VersionMajor uint32
	VersionMinor uint32
	PayloadSize  uint32
}

type wireComponentHeader struct {
	ID           uint32
	VersionMajor uint32
	VersionMinor uint32
	PayloadSize  uint32
}

// ComponentHeaderSize is the fixed wire size of a ComponentHeader.
const ComponentHeaderSize = 16

// Component is one encoded subrecord: its header plus its opaque payload
// bytes.
type Component struct {
	Header  ComponentHeader
	Payload []byte
}

// EncodeComponent packs id/version/payload into a framed Component byte
// sequence.
func EncodeComponent(id ComponentID, versionMajor, versionMinor uint32, payload []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	hdr := wireComponentHeader{
		ID:           uint32(id),
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
		PayloadSize:  uint32(len(payload)),
	}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, errors.Wrap(err, "encoding component header")
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeComponent unpacks a framed Component, validating that its id
// matches wantID, its version matches wantMajor/wantMinor exactly, and
// its payload is at least as large as the header claims (spec §4.9:
// "payload size >= expected ... each carry their own header and
// exact-size assertion").
func DecodeComponent(buf []byte, wantID ComponentID, wantMajor, wantMinor uint32) (Component, []byte, error) {
	if len(buf) < ComponentHeaderSize {
		return Component{}, nil, errors.Wrapf(vdoerr.ErrBadConfiguration, "component record shorter than header (%d bytes)", len(buf))
	}
	var hdr wireComponentHeader
	if err := binary.Read(bytes.NewReader(buf[:ComponentHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return Component{}, nil, errors.Wrap(err, "decoding component header")
	}
	if ComponentID(hdr.ID) != wantID {
		return Component{}, nil, errors.Wrapf(vdoerr.ErrIncorrectComponent, "expected component %d, got %d", wantID, hdr.ID)
	}
	if hdr.VersionMajor != wantMajor || hdr.VersionMinor != wantMinor {
		return Component{}, nil, errors.Wrapf(vdoerr.ErrUnsupportedVersion, "component %d version %d.%d unsupported, want %d.%d",
			wantID, hdr.VersionMajor, hdr.VersionMinor, wantMajor, wantMinor)
	}
	rest := buf[ComponentHeaderSize:]
	if uint32(len(rest)) < hdr.PayloadSize {
		return Component{}, nil, errors.Wrapf(vdoerr.ErrBadConfiguration,
			"component %d payload_size %d exceeds available %d bytes", wantID, hdr.PayloadSize, len(rest))
	}
	payload := rest[:hdr.PayloadSize]
	remainder := rest[hdr.PayloadSize:]
	return Component{
		Header:  ComponentHeader{ID: wantID, VersionMajor: hdr.VersionMajor, VersionMinor: hdr.VersionMinor, PayloadSize: hdr.PayloadSize},
		Payload: payload,
	}, remainder, nil
}

// SuperBlock is the root on-disk record (spec §6): a fixed header, a
// versioned payload made of an overall release/volume version plus five
// component subrecords, and a trailing CRC32.
type SuperBlock struct {
	ReleaseVersion uint32
	VersionMajor   uint32
	VersionMinor   uint32

	VDOComponent       []byte // opaque: the VDO-state blob, out of this core's scope
	FixedLayout        []byte // opaque: partition table, out of this core's scope
	RecoveryJournalState []byte
	SlabDepotState       []byte
	BlockMapState        []byte
}

// Component version numbers named in spec §6's payload description.
const (
	recoveryJournalVersionMajor = 7
	recoveryJournalVersionMinor = 0
	slabDepotVersionMajor       = 2
	slabDepotVersionMinor       = 0
	blockMapVersionMajor        = 2
	blockMapVersionMinor        = 0
	vdoComponentVersionMajor    = 1
	vdoComponentVersionMinor    = 0
	fixedLayoutVersionMajor     = 1
	fixedLayoutVersionMinor     = 0
)

// rootHeaderID and rootVersion tag the super-block's own outer header,
// distinct from its five inner component headers.
const (
	rootHeaderID           = 0x564F4453 // "VODS"
	rootVersionMajor uint32 = 1
	rootVersionMinor uint32 = 0
)

type rootHeader struct {
	ID           uint32
	VersionMajor uint32
	VersionMinor uint32
	PayloadSize  uint32
}

// Encode packs s into its on-disk bytes: outer header, payload (release
// version, overall version, five framed components), and trailing
// CRC32. Returns ErrBadConfiguration if the result would not fit within
// one sector.
func (s SuperBlock) Encode() ([]byte, error) {
	payload := new(bytes.Buffer)
	if err := binary.Write(payload, binary.LittleEndian, s.ReleaseVersion); err != nil {
		return nil, errors.Wrap(err, "encoding release version")
	}
	if err := binary.Write(payload, binary.LittleEndian, struct{ Major, Minor uint32 }{s.VersionMajor, s.VersionMinor}); err != nil {
		return nil, errors.Wrap(err, "encoding volume version")
	}

	vdoComp, err := EncodeComponent(ComponentVDO, vdoComponentVersionMajor, vdoComponentVersionMinor, s.VDOComponent)
	if err != nil {
		return nil, err
	}
	layoutComp, err := EncodeComponent(ComponentFixedLayout, fixedLayoutVersionMajor, fixedLayoutVersionMinor, s.FixedLayout)
	if err != nil {
		return nil, err
	}
	journalComp, err := EncodeComponent(ComponentRecoveryJournal, recoveryJournalVersionMajor, recoveryJournalVersionMinor, s.RecoveryJournalState)
	if err != nil {
		return nil, err
	}
	depotComp, err := EncodeComponent(ComponentSlabDepot, slabDepotVersionMajor, slabDepotVersionMinor, s.SlabDepotState)
	if err != nil {
		return nil, err
	}
	blockMapComp, err := EncodeComponent(ComponentBlockMap, blockMapVersionMajor, blockMapVersionMinor, s.BlockMapState)
	if err != nil {
		return nil, err
	}
	for _, c := range [][]byte{vdoComp, layoutComp, journalComp, depotComp, blockMapComp} {
		payload.Write(c)
	}

	hdr := rootHeader{ID: rootHeaderID, VersionMajor: rootVersionMajor, VersionMinor: rootVersionMinor, PayloadSize: uint32(payload.Len())}

	full := new(bytes.Buffer)
	if err := binary.Write(full, binary.LittleEndian, hdr); err != nil {
		return nil, errors.Wrap(err, "encoding super-block header")
	}
	full.Write(payload.Bytes())

	checksum := crc32.ChecksumIEEE(full.Bytes())
	if err := binary.Write(full, binary.LittleEndian, checksum); err != nil {
		return nil, errors.Wrap(err, "encoding super-block checksum")
	}

	if full.Len() > SectorSize {
		return nil, errors.Wrapf(vdoerr.ErrBadConfiguration, "super-block encoding (%d bytes) exceeds sector size %d", full.Len(), SectorSize)
	}
	return full.Bytes(), nil
}

// Decode validates and unpacks a super-block's bytes: header id and
// version, payload-size bound, checksum, and every component subrecord's
// own header/version/size. releaseVersion must equal the geometry
// block's recorded release version (spec §4.9: "release-version equality
// against the geometry block").
func Decode(buf []byte, expectedReleaseVersion uint32) (SuperBlock, error) {
	const rootHeaderSize = 16
	if len(buf) < rootHeaderSize+4 {
		return SuperBlock{}, errors.Wrapf(vdoerr.ErrBadConfiguration, "super-block record too short (%d bytes)", len(buf))
	}

	checksummed := buf[:len(buf)-4]
	wantChecksum := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(checksummed) != wantChecksum {
		return SuperBlock{}, errors.Wrap(vdoerr.ErrChecksumMismatch, "super-block")
	}

	var hdr rootHeader
	if err := binary.Read(bytes.NewReader(checksummed[:rootHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return SuperBlock{}, errors.Wrap(err, "decoding super-block header")
	}
	if hdr.ID != rootHeaderID {
		return SuperBlock{}, errors.Wrap(vdoerr.ErrIncorrectComponent, "super-block header id mismatch")
	}
	if hdr.VersionMajor != rootVersionMajor || hdr.VersionMinor != rootVersionMinor {
		return SuperBlock{}, errors.Wrapf(vdoerr.ErrUnsupportedVersion, "super-block version %d.%d unsupported", hdr.VersionMajor, hdr.VersionMinor)
	}

	payload := checksummed[rootHeaderSize:]
	if uint32(len(payload)) < hdr.PayloadSize {
		return SuperBlock{}, errors.Wrapf(vdoerr.ErrBadConfiguration, "super-block payload_size %d exceeds available %d bytes", hdr.PayloadSize, len(payload))
	}
	payload = payload[:hdr.PayloadSize]

	if len(payload) < 12 {
		return SuperBlock{}, errors.Wrap(vdoerr.ErrBadConfiguration, "super-block payload missing release/volume version")
	}
	releaseVersion := binary.LittleEndian.Uint32(payload[0:4])
	versionMajor := binary.LittleEndian.Uint32(payload[4:8])
	versionMinor := binary.LittleEndian.Uint32(payload[8:12])
	if releaseVersion != expectedReleaseVersion {
		return SuperBlock{}, errors.Wrapf(vdoerr.ErrParameterMismatch,
			"super-block release version %d does not match geometry block %d", releaseVersion, expectedReleaseVersion)
	}
	rest := payload[12:]

	vdoComp, rest, err := DecodeComponent(rest, ComponentVDO, vdoComponentVersionMajor, vdoComponentVersionMinor)
	if err != nil {
		return SuperBlock{}, err
	}
	layoutComp, rest, err := DecodeComponent(rest, ComponentFixedLayout, fixedLayoutVersionMajor, fixedLayoutVersionMinor)
	if err != nil {
		return SuperBlock{}, err
	}
	journalComp, rest, err := DecodeComponent(rest, ComponentRecoveryJournal, recoveryJournalVersionMajor, recoveryJournalVersionMinor)
	if err != nil {
		return SuperBlock{}, err
	}
	depotComp, rest, err := DecodeComponent(rest, ComponentSlabDepot, slabDepotVersionMajor, slabDepotVersionMinor)
	if err != nil {
		return SuperBlock{}, err
	}
	blockMapComp, _, err := DecodeComponent(rest, ComponentBlockMap, blockMapVersionMajor, blockMapVersionMinor)
	if err != nil {
		return SuperBlock{}, err
	}

	return SuperBlock{
		ReleaseVersion:        releaseVersion,
		VersionMajor:          versionMajor,
		VersionMinor:          versionMinor,
		VDOComponent:          vdoComp.Payload,
		FixedLayout:           layoutComp.Payload,
		RecoveryJournalState:  journalComp.Payload,
		SlabDepotState:        depotComp.Payload,
		BlockMapState:         blockMapComp.Payload,
	}, nil
}

// Geometry is the geometry block at offset 0 (spec §6): release version
// and nonce, plus a volume UUID (spec SPEC_FULL supplement) and its own
// checksum.
type Geometry struct {
	ReleaseVersion uint32
	Nonce          uint64
	VolumeUUID     uuid.UUID
}

type wireGeometry struct {
	ReleaseVersion uint32
	Nonce          uint64
	VolumeUUID     [16]byte
}

// GeometrySize is the fixed wire size of an encoded Geometry block.
const GeometrySize = 4 + 8 + 16 + 4

// NewGeometry returns a Geometry with a freshly generated volume UUID.
func NewGeometry(releaseVersion uint32, nonce uint64) Geometry {
	return Geometry{ReleaseVersion: releaseVersion, Nonce: nonce, VolumeUUID: uuid.New()}
}

// Encode packs g into its on-disk bytes.
func (g Geometry) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	w := wireGeometry{ReleaseVersion: g.ReleaseVersion, Nonce: g.Nonce, VolumeUUID: g.VolumeUUID}
	if err := binary.Write(buf, binary.LittleEndian, w); err != nil {
		return nil, errors.Wrap(err, "encoding geometry block")
	}
	checksum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(buf, binary.LittleEndian, checksum); err != nil {
		return nil, errors.Wrap(err, "encoding geometry checksum")
	}
	return buf.Bytes(), nil
}

// DecodeGeometry validates and unpacks the geometry block.
func DecodeGeometry(buf []byte) (Geometry, error) {
	if len(buf) < GeometrySize {
		return Geometry{}, errors.Wrapf(vdoerr.ErrBadConfiguration, "geometry block too short (%d bytes)", len(buf))
	}
	checksummed := buf[:GeometrySize-4]
	wantChecksum := binary.LittleEndian.Uint32(buf[GeometrySize-4 : GeometrySize])
	if crc32.ChecksumIEEE(checksummed) != wantChecksum {
		return Geometry{}, errors.Wrap(vdoerr.ErrChecksumMismatch, "geometry block")
	}
	var w wireGeometry
	if err := binary.Read(bytes.NewReader(checksummed), binary.LittleEndian, &w); err != nil {
		return Geometry{}, errors.Wrap(err, "decoding geometry block")
	}
	return Geometry{ReleaseVersion: w.ReleaseVersion, Nonce: w.Nonce, VolumeUUID: w.VolumeUUID}, nil
}
