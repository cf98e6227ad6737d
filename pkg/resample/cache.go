package resample

import (
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"radextract/internal/models"
	"radextract/pkg/atlas"
)

// Entry is one atlas entry projected onto the cache's current grid.
type Entry struct {
	Name string
	Kind models.Kind
	Vol  *models.Volume
}

// Cache holds the most recent resampling of every atlas entry onto a single
// grid. It starts stale; Ensure performs the only mutation, replacing the
// whole entry set atomically when the grid changes. Sessions sharing a grid
// reuse the existing set without any resampling.
//
// A mutex serializes transitions so concurrent drivers cannot interleave
// partial rebuilds; readers always observe either the previous complete set
// or the new one.
type Cache struct {
	store *atlas.Store

	mu       sync.Mutex
	valid    bool
	grid     models.Grid
	entries  []Entry
	rebuilds int
}

// NewCache creates a stale cache over the given store.
func NewCache(store *atlas.Store) *Cache {
	return &Cache{store: store}
}

// Ensure makes the cache valid for the given grid. When the recorded grid
// already equals it, this is a no-op. Otherwise every atlas entry is
// resampled onto the new grid (in parallel) and the cached set is swapped
// wholesale; nothing from the previous grid survives.
func (c *Cache) Ensure(grid models.Grid) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.grid.Equal(grid) {
		return nil
	}

	src := c.store.Entries()
	fresh := make([]Entry, len(src))

	var g errgroup.Group
	for i, e := range src {
		i, e := i, e
		g.Go(func() error {
			vol, err := NearestNeighbor(e.Vol, grid)
			if err != nil {
				return err
			}
			fresh[i] = Entry{Name: e.Name, Kind: e.Kind, Vol: vol}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Swap-on-completion: a failed rebuild leaves the cache stale
		// rather than half-replaced.
		c.valid = false
		c.entries = nil
		return err
	}

	c.entries = fresh
	c.grid = grid
	c.valid = true
	c.rebuilds++
	return nil
}

// Entries returns the current resampled set, ROIs first in atlas load order.
// Callers must not mutate the returned volumes.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

// ROI returns the resampled ROI with the exact given name.
func (c *Cache) ROI(name string) (*models.Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Kind == models.ROI && e.Name == name {
			return e.Vol, true
		}
	}
	return nil, false
}

// FirstTPM returns the first resampled TPM (in load order) whose lowercase
// name contains any of the given lowercase substrings.
func (c *Cache) FirstTPM(substrings []string) (string, *models.Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Kind != models.TPM {
			continue
		}
		lower := strings.ToLower(e.Name)
		for _, sub := range substrings {
			if strings.Contains(lower, strings.ToLower(sub)) {
				return e.Name, e.Vol, true
			}
		}
	}
	return "", nil, false
}

// Rebuilds returns how many stale-to-valid transitions have run.
func (c *Cache) Rebuilds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds
}
