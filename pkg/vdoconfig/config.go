// Package vdoconfig loads depot configuration the way the teacher's
// pkg/vconvert loads repository configuration: viper layered over a
// config file discovered via go-homedir, with defaults applied when no
// file is present. This is the ambient configuration layer behind
// cmd/vdoctl (spec §6 "Configuration options": slab size, zone count,
// thresholds, nonce, release version).
package vdoconfig

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/sirupsen/logrus"

	"github.com/vdo-go/depot/pkg/slab"
)

const configFileName = "depot"

// Config holds every tunable named in spec §6's "Configuration options".
type Config struct {
	SlabBlocks         uint64 `mapstructure:"slab-blocks"`
	DataBlocks         uint64 `mapstructure:"data-blocks"`
	RefCountBlocks     uint64 `mapstructure:"ref-count-blocks"`
	JournalBlocks      uint64 `mapstructure:"journal-blocks"`
	FlushingThreshold  uint64 `mapstructure:"flushing-threshold"`
	BlockingThreshold  uint64 `mapstructure:"blocking-threshold"`
	ScrubbingThreshold uint64 `mapstructure:"scrubbing-threshold"`
	ZoneCount          int    `mapstructure:"zone-count"`
	ReleaseVersion     uint32 `mapstructure:"release-version"`
}

func defaults() Config {
	return Config{
		SlabBlocks:         1 << 15,
		DataBlocks:         1<<15 - 512,
		RefCountBlocks:     256,
		JournalBlocks:      256,
		FlushingThreshold:  256 * 7 / 10,
		BlockingThreshold:  256 * 9 / 10,
		ScrubbingThreshold: 256 * 19 / 20,
		ZoneCount:          1,
		ReleaseVersion:     1,
	}
}

// Load reads cfgFile if given, else searches the user's home directory
// for "depot.yaml", falling back to defaults() when neither is found.
func Load(cfgFile string, log logrus.FieldLogger) (Config, error) {
	cfg := defaults()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigName(configFileName)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if log != nil {
			log.Debugf("no depot config file found, using defaults: %v", err)
		}
		return cfg, nil
	}

	if log != nil {
		log.Debugf("using config file: %s", v.ConfigFileUsed())
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SlabConfig projects the loaded Config down to the slab package's
// geometry type, validating it in the process.
func (c Config) SlabConfig() (slab.Config, error) {
	sc := slab.Config{
		SlabBlocks:         c.SlabBlocks,
		DataBlocks:         c.DataBlocks,
		RefCountBlocks:     c.RefCountBlocks,
		JournalBlocks:      c.JournalBlocks,
		FlushingThreshold:  c.FlushingThreshold,
		BlockingThreshold:  c.BlockingThreshold,
		ScrubbingThreshold: c.ScrubbingThreshold,
	}
	if err := sc.Validate(); err != nil {
		return slab.Config{}, err
	}
	return sc, nil
}
