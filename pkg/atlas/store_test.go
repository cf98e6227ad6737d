package atlas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radextract/internal/models"
	"radextract/pkg/nifti"
)

func writeCube(t *testing.T, path string, value float64) {
	t.Helper()
	grid := models.Grid{Shape: [3]int{10, 10, 10}, Affine: models.IdentityAffine()}
	vol := models.NewVolume(grid)
	vol.Fill(value)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, nifti.Write(path, vol))
}

// testAtlas lays out a minimal 4wk atlas tree and returns its root.
func testAtlas(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	roiDir := filepath.Join(root, "4wkAtlas", "Regions_of_Interest_4wk", "ROI_thr0")
	tpmDir := filepath.Join(root, "4wkAtlas", "Tissue_Probability_Maps_4wk")

	writeCube(t, filepath.Join(roiDir, "Corpus_Callosum_thr0.nii.gz"), 1)
	writeCube(t, filepath.Join(roiDir, "Hippocampus_thr0.nii.gz"), 1)
	writeCube(t, filepath.Join(tpmDir, "white_matter_prob.nii.gz"), 0.8)
	return root
}

func TestLoad(t *testing.T) {
	store, err := Load(testAtlas(t), "4wk")
	require.NoError(t, err)

	assert.Equal(t, "4wk", store.Version())
	require.Len(t, store.ROIs(), 2)
	require.Len(t, store.TPMs(), 1)
	assert.Equal(t, 3, store.Len())

	// _thr0 suffix stripped from ROI names, sorted path order preserved
	assert.Equal(t, "Corpus_Callosum", store.ROIs()[0].Name)
	assert.Equal(t, "Hippocampus", store.ROIs()[1].Name)
	assert.Equal(t, models.ROI, store.ROIs()[0].Kind)
	assert.Equal(t, "white_matter_prob", store.TPMs()[0].Name)
	assert.Equal(t, models.TPM, store.TPMs()[0].Kind)

	all := store.Entries()
	require.Len(t, all, 3)
	assert.Equal(t, "Corpus_Callosum", all[0].Name, "ROIs come first")
}

func TestLoadMissingTPMDirIsSetupError(t *testing.T) {
	root := testAtlas(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "4wkAtlas", "Tissue_Probability_Maps_4wk")))

	_, err := Load(root, "4wk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAtlasLoad))
}

func TestLoadEmptyROIDirIsSetupError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(
		filepath.Join(root, "4wkAtlas", "Regions_of_Interest_4wk", "ROI_thr0"), 0755))

	_, err := Load(root, "4wk")
	assert.True(t, errors.Is(err, ErrAtlasLoad))
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	_, err := Load(testAtlas(t), "52wk")
	assert.True(t, errors.Is(err, ErrAtlasLoad))
}

// The same entry name appearing twice (e.g. as .nii and .nii.gz) must fail
// loudly rather than letting one file silently shadow the other.
func TestLoadDuplicateNameIsError(t *testing.T) {
	root := testAtlas(t)
	roiDir := filepath.Join(root, "4wkAtlas", "Regions_of_Interest_4wk", "ROI_thr0")
	writeCube(t, filepath.Join(roiDir, "Corpus_Callosum_thr0.nii"), 1)

	_, err := Load(root, "4wk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAtlasLoad))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Corpus_Callosum_thr0", CleanName("/x/Corpus_Callosum_thr0.nii.gz"))
	assert.Equal(t, "wm", CleanName("wm.nii"))
	assert.Equal(t, "noext", CleanName("noext"))
}
