package resample

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radextract/internal/models"
	"radextract/pkg/atlas"
	"radextract/pkg/nifti"
)

// testStore builds a real atlas tree on disk with one ROI and one TPM on a
// 10x10x10 unit grid.
func testStore(t *testing.T) *atlas.Store {
	t.Helper()
	root := t.TempDir()
	roiDir := filepath.Join(root, "4wkAtlas", "Regions_of_Interest_4wk", "ROI_thr0")
	tpmDir := filepath.Join(root, "4wkAtlas", "Tissue_Probability_Maps_4wk")
	require.NoError(t, os.MkdirAll(roiDir, 0755))
	require.NoError(t, os.MkdirAll(tpmDir, 0755))

	grid := models.Grid{Shape: [3]int{10, 10, 10}, Affine: models.IdentityAffine()}

	roi := models.NewVolume(grid)
	roi.Fill(1)
	require.NoError(t, nifti.Write(filepath.Join(roiDir, "Corpus_Callosum_thr0.nii.gz"), roi))

	tpm := models.NewVolume(grid)
	tpm.Fill(0.8)
	require.NoError(t, nifti.Write(filepath.Join(tpmDir, "white_matter_prob.nii.gz"), tpm))

	store, err := atlas.Load(root, "4wk")
	require.NoError(t, err)
	return store
}

func grid(n int) models.Grid {
	return models.Grid{Shape: [3]int{n, n, n}, Affine: models.IdentityAffine()}
}

func TestCacheHitResamplesAtMostOnce(t *testing.T) {
	c := NewCache(testStore(t))
	assert.Equal(t, 0, c.Rebuilds(), "cache starts stale with no work done")

	require.NoError(t, c.Ensure(grid(10)))
	require.NoError(t, c.Ensure(grid(10)))
	assert.Equal(t, 1, c.Rebuilds(), "identical grids must share one resampling")
}

// Two consecutive grid changes rebuild twice; a third session on the second
// grid adds nothing.
func TestCacheRebuildCountAcrossGridChanges(t *testing.T) {
	c := NewCache(testStore(t))

	require.NoError(t, c.Ensure(grid(10)))
	require.NoError(t, c.Ensure(grid(8)))
	assert.Equal(t, 2, c.Rebuilds())

	require.NoError(t, c.Ensure(grid(8)))
	assert.Equal(t, 2, c.Rebuilds())
}

func TestCacheReplacesEntriesWholesale(t *testing.T) {
	c := NewCache(testStore(t))

	require.NoError(t, c.Ensure(grid(10)))
	before := c.Entries()
	require.Len(t, before, 2)

	require.NoError(t, c.Ensure(grid(8)))
	after := c.Entries()
	require.Len(t, after, 2)
	for i := range after {
		assert.NotSame(t, before[i].Vol, after[i].Vol, "entry %d survived the grid change", i)
		assert.Equal(t, [3]int{8, 8, 8}, after[i].Vol.Grid.Shape)
	}
}

func TestCacheFailedRebuildLeavesStale(t *testing.T) {
	c := NewCache(testStore(t))

	require.Error(t, c.Ensure(models.Grid{Shape: [3]int{0, 1, 1}}))
	assert.Empty(t, c.Entries())
	assert.Equal(t, 0, c.Rebuilds())

	// recovers on the next valid grid
	require.NoError(t, c.Ensure(grid(10)))
	assert.Len(t, c.Entries(), 2)
}

func TestCacheLookups(t *testing.T) {
	c := NewCache(testStore(t))
	require.NoError(t, c.Ensure(grid(10)))

	vol, ok := c.ROI("Corpus_Callosum")
	require.True(t, ok)
	assert.Equal(t, 1.0, vol.At(5, 5, 5))

	_, ok = c.ROI("corpus_callosum")
	assert.False(t, ok, "ROI lookup is case-sensitive")

	name, tpm, ok := c.FirstTPM([]string{"white", "wm"})
	require.True(t, ok)
	assert.Equal(t, "white_matter_prob", name)
	assert.InDelta(t, 0.8, tpm.At(0, 0, 0), 1e-6)

	_, _, ok = c.FirstTPM([]string{"csf"})
	assert.False(t, ok)
}
