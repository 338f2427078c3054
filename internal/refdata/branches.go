// Package refdata serves reference lists read from the object store.
package refdata

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/objstore"
)

// TableReader reads a tabular object.
type TableReader interface {
	ReadTable(ctx context.Context, objectName, bucket string) (*objstore.Table, error)
}

// BranchConfig locates the branch table.
type BranchConfig struct {
	Bucket string
	Object string
	Column string
	TTL    time.Duration
}

type branchCache struct {
	names   []string
	expires time.Time
}

// BranchCatalog lists branch (filial) names from a table object.
type BranchCatalog struct {
	reader TableReader
	cfg    BranchConfig
	now    func() time.Time

	cacheMu sync.RWMutex
	cache   *branchCache
	group   singleflight.Group
}

// NewBranchCatalog creates a catalog reading through reader.
func NewBranchCatalog(reader TableReader, cfg BranchConfig) *BranchCatalog {
	return &BranchCatalog{reader: reader, cfg: cfg, now: time.Now}
}

// Names returns the sorted, distinct branch names. Results are cached for
// the configured TTL and concurrent loads share one read. When a reload
// fails the previous list is served.
func (c *BranchCatalog) Names(ctx context.Context) ([]string, error) {
	if names, ok := c.cached(false); ok {
		return names, nil
	}

	v, err, _ := c.group.Do("branches", func() (any, error) {
		if names, ok := c.cached(false); ok {
			return names, nil
		}
		return c.load(ctx)
	})
	if err != nil {
		if stale, ok := c.cached(true); ok {
			log.LogWarnWithFields("refdata", "Serving stale branch list", map[string]any{
				"error": err.Error(),
			})
			return stale, nil
		}
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

func (c *BranchCatalog) cached(allowStale bool) ([]string, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	if c.cache == nil {
		return nil, false
	}
	if !allowStale && !c.now().Before(c.cache.expires) {
		return nil, false
	}
	return slices.Clone(c.cache.names), true
}

func (c *BranchCatalog) load(ctx context.Context) ([]string, error) {
	table, err := c.reader.ReadTable(ctx, c.cfg.Object, c.cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("loading branches: %w", err)
	}
	values, ok := table.Column(c.cfg.Column)
	if !ok {
		return nil, fmt.Errorf("loading branches: column %q not found in %s/%s", c.cfg.Column, c.cfg.Bucket, c.cfg.Object)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			names = append(names, v)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	c.cacheMu.Lock()
	c.cache = &branchCache{names: names, expires: c.now().Add(c.cfg.TTL)}
	c.cacheMu.Unlock()

	log.LogInfoWithFields("refdata", "Loaded branch list", map[string]any{
		"count":  len(names),
		"object": c.cfg.Bucket + "/" + c.cfg.Object,
	})
	return slices.Clone(names), nil
}
