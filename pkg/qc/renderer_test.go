package qc

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radextract/internal/models"
)

func testVolumes() (ref, roi, tpm *models.Volume) {
	grid := models.Grid{Shape: [3]int{12, 14, 10}, Affine: models.IdentityAffine()}

	ref = models.NewVolume(grid)
	for i := range ref.Data {
		ref.Data[i] = float64(i % 50)
	}

	roi = models.NewVolume(grid)
	for z := 3; z < 7; z++ {
		for y := 3; y < 7; y++ {
			for x := 3; x < 7; x++ {
				roi.Set(x, y, z, 1)
			}
		}
	}

	tpm = models.NewVolume(grid)
	tpm.Fill(0.8)
	return ref, roi, tpm
}

func TestRenderWritesDecodablePNG(t *testing.T) {
	ref, roi, tpm := testVolumes()
	out := filepath.Join(t.TempDir(), "sub-01_ses-01_Full_QC.png")

	require.NoError(t, Render(ref, roi, tpm, "QC Overlay: sub-01 ses-01", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestRenderOverwritesExisting(t *testing.T) {
	ref, roi, tpm := testVolumes()
	out := filepath.Join(t.TempDir(), "qc.png")
	require.NoError(t, os.WriteFile(out, []byte("not a png"), 0644))

	require.NoError(t, Render(ref, roi, tpm, "title", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestRenderRejectsDegenerateReference(t *testing.T) {
	_, roi, tpm := testVolumes()
	bad := &models.Volume{Grid: models.Grid{Shape: [3]int{0, 4, 4}}}
	assert.Error(t, Render(bad, roi, tpm, "t", filepath.Join(t.TempDir(), "x.png")))
}

func TestIntensityWindowFlatVolume(t *testing.T) {
	flat := models.NewVolume(models.Grid{Shape: [3]int{2, 2, 2}, Affine: models.IdentityAffine()})
	flat.Fill(3)
	lo, hi := intensityWindow(flat)
	assert.Less(t, lo, hi, "flat volumes still need a non-empty window")
}
