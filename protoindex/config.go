package protoindex

import (
	"log/slog"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/skeleton"
)

type Config struct {
	// minimum degree of every tree in the index, inner and outer
	NodeMin int
	// nested-tree headers per bin document
	BinCapacity int
	// size of the archive worker pool
	Workers int
	// cap on concurrent node fetches while preparing an update
	MaxConcurrency int
	// ghost hops a single lookup may take before giving up
	MaxHops int

	Logger *slog.Logger
}

func DefaultConfig() *Config {
	return &Config{
		NodeMin:        skeleton.DefaultNodeMin,
		BinCapacity:    skeleton.DefaultBinCapacity,
		Workers:        archive.DefaultPoolSize,
		MaxConcurrency: archive.DefaultPoolSize,
		MaxHops:        skeleton.DefaultMaxHops,
	}
}
