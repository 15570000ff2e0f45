package main

import (
	"bytes"
	"encoding/binary"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vdo-go/depot/pkg/backingstore"
	"github.com/vdo-go/depot/pkg/journalfmt"
	"github.com/vdo-go/depot/pkg/superblock"
)

var statsCmd = &cobra.Command{
	Use:   "stats <backing-file>",
	Short: "report geometry and slab-depot accounting read from a backing file's super block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := backingstore.OpenFile(args[0], journalfmt.BlockSize)
		if err != nil {
			return err
		}
		defer dev.Close()

		geomBuf, err := dev.ReadBlockAt(geometryBlockPBN)
		if err != nil {
			return err
		}
		geom, err := superblock.DecodeGeometry(geomBuf[:superblock.GeometrySize])
		if err != nil {
			return errors.Wrap(err, "decoding geometry block")
		}

		sbBuf, err := dev.ReadBlockAt(superBlockPBN)
		if err != nil {
			return err
		}
		n, err := superBlockRecordLen(sbBuf)
		if err != nil {
			return err
		}
		sb, err := superblock.Decode(sbBuf[:n], geom.ReleaseVersion)
		if err != nil {
			return errors.Wrap(err, "decoding super block")
		}

		var slabCount uint64
		var zoneCount uint32
		r := bytes.NewReader(sb.SlabDepotState)
		if err := binary.Read(r, binary.LittleEndian, &slabCount); err != nil {
			return errors.Wrap(err, "decoding slab depot state")
		}
		if err := binary.Read(r, binary.LittleEndian, &zoneCount); err != nil {
			return errors.Wrap(err, "decoding slab depot state")
		}

		var firstBlock, slabCount2, slabBlocks uint64
		fr := bytes.NewReader(sb.FixedLayout)
		_ = binary.Read(fr, binary.LittleEndian, &firstBlock)
		_ = binary.Read(fr, binary.LittleEndian, &slabCount2)
		_ = binary.Read(fr, binary.LittleEndian, &slabBlocks)

		totalBytes := slabCount * slabBlocks * uint64(journalfmt.BlockSize)

		log.Printf("release version: %d", sb.ReleaseVersion)
		log.Printf("nonce: %d", geom.Nonce)
		log.Printf("volume uuid: %s", geom.VolumeUUID)
		log.Printf("slabs: %d", slabCount)
		log.Printf("zones: %d", zoneCount)
		log.Printf("provisioned capacity: %s", bytefmt.ByteSize(totalBytes))
		return nil
	},
}
