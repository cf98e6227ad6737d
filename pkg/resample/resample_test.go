package resample

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radextract/internal/models"
)

func labelVolume() *models.Volume {
	grid := models.Grid{Shape: [3]int{10, 10, 10}, Affine: models.IdentityAffine()}
	vol := models.NewVolume(grid)
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				switch {
				case x < 3:
					vol.Set(x, y, z, 3)
				case x < 6:
					vol.Set(x, y, z, 7)
				}
			}
		}
	}
	return vol
}

func TestNearestNeighborIdentity(t *testing.T) {
	src := labelVolume()
	out, err := NearestNeighbor(src, src.Grid)
	require.NoError(t, err)

	assert.Equal(t, src.Grid, out.Grid)
	assert.Equal(t, src.Data, out.Data, "identity regrid must preserve every voxel")
}

// Resampling a label mask must never invent intermediate values, whatever
// the target grid.
func TestNearestNeighborPreservesLabels(t *testing.T) {
	src := labelVolume()

	target := models.Grid{Shape: [3]int{7, 7, 7}, Affine: models.IdentityAffine()}
	target.Affine[0][0] = 1.4
	target.Affine[1][1] = 1.4
	target.Affine[2][2] = 1.4
	target.Affine[0][3] = 0.3

	out, err := NearestNeighbor(src, target)
	require.NoError(t, err)

	allowed := map[float64]bool{0: true, 3: true, 7: true}
	for i, v := range out.Data {
		require.Truef(t, allowed[v], "voxel %d has interpolated value %v", i, v)
	}
}

func TestNearestNeighborCarriesTargetGrid(t *testing.T) {
	src := labelVolume()
	target := models.Grid{Shape: [3]int{4, 4, 4}, Affine: models.IdentityAffine()}
	target.Affine[2][3] = -3

	out, err := NearestNeighbor(src, target)
	require.NoError(t, err)
	assert.True(t, out.Grid.Equal(target), "output metadata must come from the target grid")
	assert.Len(t, out.Data, 64)
}

func TestNearestNeighborOutOfBoundsIsZero(t *testing.T) {
	src := labelVolume()
	src.Fill(5)

	target := models.Grid{Shape: [3]int{4, 4, 4}, Affine: models.IdentityAffine()}
	target.Affine[0][3] = 100 // entirely outside the source volume

	out, err := NearestNeighbor(src, target)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestNearestNeighborDegenerateTarget(t *testing.T) {
	src := labelVolume()
	_, err := NearestNeighbor(src, models.Grid{Shape: [3]int{0, 4, 4}})
	assert.True(t, errors.Is(err, ErrResample))
}

func TestNearestNeighborSingularAffine(t *testing.T) {
	src := labelVolume()
	src.Grid.Affine[0] = [4]float64{0, 0, 0, 0}

	target := models.Grid{Shape: [3]int{4, 4, 4}, Affine: models.IdentityAffine()}
	_, err := NearestNeighbor(src, target)
	assert.True(t, errors.Is(err, ErrResample))
}
