package main

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdo-go/depot/pkg/backingstore"
	"github.com/vdo-go/depot/pkg/depot"
	"github.com/vdo-go/depot/pkg/journalfmt"
	"github.com/vdo-go/depot/pkg/slab"
	"github.com/vdo-go/depot/pkg/superblock"
	"github.com/vdo-go/depot/pkg/vdoconfig"
)

// superBlockRecordLen reads the root header's payload_size out of a
// block-sized buffer to find exactly how many bytes Decode should see:
// Encode's checksum covers only the record it wrote, not the zero
// padding format wrote after it to fill out the block.
func superBlockRecordLen(buf []byte) (int, error) {
	const rootHeaderSize = 16
	if len(buf) < rootHeaderSize {
		return 0, errors.New("block too short to hold a super-block header")
	}
	payloadSize := binary.LittleEndian.Uint32(buf[12:16])
	return rootHeaderSize + int(payloadSize) + 4, nil
}

// reopenDepot rebuilds an in-memory depot from a backing file's super
// block: the fixed-layout component names how many slabs exist and
// where they start, and slabCfg (read from the same config used at
// format time) supplies the rest of the slab geometry.
func reopenDepot(path string, slabCfg slab.Config, cfg vdoconfig.Config, nonce uint64) (*depot.Depot, error) {
	dev, err := backingstore.OpenFile(path, journalfmt.BlockSize)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	geomBuf, err := dev.ReadBlockAt(geometryBlockPBN)
	if err != nil {
		return nil, err
	}
	geom, err := superblock.DecodeGeometry(geomBuf[:superblock.GeometrySize])
	if err != nil {
		return nil, errors.Wrap(err, "decoding geometry block")
	}

	sbBuf, err := dev.ReadBlockAt(superBlockPBN)
	if err != nil {
		return nil, err
	}
	n, err := superBlockRecordLen(sbBuf)
	if err != nil {
		return nil, err
	}
	sb, err := superblock.Decode(sbBuf[:n], geom.ReleaseVersion)
	if err != nil {
		return nil, errors.Wrap(err, "decoding super block")
	}

	var firstBlock, slabCount uint64
	r := bytes.NewReader(sb.FixedLayout)
	if err := binary.Read(r, binary.LittleEndian, &firstBlock); err != nil {
		return nil, errors.Wrap(err, "decoding fixed layout")
	}
	if err := binary.Read(r, binary.LittleEndian, &slabCount); err != nil {
		return nil, errors.Wrap(err, "decoding fixed layout")
	}

	d := depot.New(slabCfg, uint32(cfg.ZoneCount), slab.PBN(firstBlock), nonce, logrus.StandardLogger())
	d.SetTracer(log)
	if err := d.AddSlabs(slabCount); err != nil {
		return nil, errors.Wrap(err, "allocating slabs")
	}
	return d, nil
}
