package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vdo-go/depot/pkg/backingstore"
	"github.com/vdo-go/depot/pkg/journalfmt"
	"github.com/vdo-go/depot/pkg/recovery"
	"github.com/vdo-go/depot/pkg/superblock"
	"github.com/vdo-go/depot/pkg/vdoconfig"
)

var (
	flagJournalStart  uint64
	flagJournalBlocks uint64
)

var repairCmd = &cobra.Command{
	Use:   "repair <backing-file>",
	Short: "scan the recovery journal and replay it against the slab depot (spec §4.8)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := vdoconfig.Load(flagConfig, log)
		if err != nil {
			return errors.Wrap(err, "loading depot config")
		}
		slabCfg, err := cfg.SlabConfig()
		if err != nil {
			return errors.Wrap(err, "validating slab config")
		}

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

		d, err := reopenDepot(args[0], slabCfg, cfg, geom.Nonce)
		if err != nil {
			return err
		}

		scanner := recovery.NewScanner(geom.Nonce, 0, flagJournalBlocks, func(idx uint64) ([]byte, error) {
			return dev.ReadBlockAt(flagJournalStart + idx)
		})
		scanned, err := scanner.Scan()
		if err != nil {
			return errors.Wrap(err, "scanning recovery journal")
		}

		repairer := recovery.NewRepairer(d, nil, nil, log)
		result, err := repairer.Repair(scanned)
		if err != nil {
			return errors.Wrap(err, "replaying recovery journal")
		}

		log.Infof("replayed %d entries (%d incomplete decrefs); logical blocks used %d, block-map data blocks %d",
			result.Applied, result.IncompleteDecrefCount, result.LogicalBlocksUsed, result.BlockMapDataBlocks)
		return nil
	},
}

func init() {
	repairCmd.Flags().Uint64Var(&flagJournalStart, "journal-start", superBlockPBN+1, "first block of the recovery-journal partition")
	repairCmd.Flags().Uint64Var(&flagJournalBlocks, "journal-blocks", 224, "number of blocks in the recovery-journal partition")
}
