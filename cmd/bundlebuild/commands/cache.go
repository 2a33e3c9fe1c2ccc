package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/uxforge/bundlebuild/internal/cache"
	"github.com/uxforge/bundlebuild/internal/config"
)

// CacheCmd groups result-cache maintenance subcommands.
type CacheCmd struct {
	Stats  CacheStatsCmd  `cmd:"" help:"Show result cache statistics"`
	Clear  CacheClearCmd  `cmd:"" help:"Remove all cache entries"`
	Delete CacheDeleteCmd `cmd:"" help:"Remove one cache entry by key"`
}

func openCache(configPath string) (*cache.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(cfg.Cache.Path)
}

type CacheStatsCmd struct{}

func (CacheStatsCmd) Run(_ *Global, root *CLI) error {
	store, err := openCache(root.Config)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("entries: %d\n", stats.Entries)
	fmt.Printf("size:    %d bytes\n", stats.TotalBytes)
	if stats.Entries > 0 {
		fmt.Printf("oldest:  %s\n", time.Unix(stats.OldestUnix, 0).Format(time.RFC3339))
		fmt.Printf("newest:  %s\n", time.Unix(stats.NewestUnix, 0).Format(time.RFC3339))
	}
	return nil
}

type CacheClearCmd struct{}

func (CacheClearCmd) Run(_ *Global, root *CLI) error {
	store, err := openCache(root.Config)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Clear(context.Background()); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}

type CacheDeleteCmd struct {
	Key string `arg:"" help:"Cache key to delete"`
}

func (c CacheDeleteCmd) Run(_ *Global, root *CLI) error {
	store, err := openCache(root.Config)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(context.Background(), c.Key); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", c.Key)
	return nil
}
