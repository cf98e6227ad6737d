// Package resample projects atlas volumes onto subject voxel grids and
// caches the projected set for reuse across sessions sharing a grid.
package resample

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"radextract/internal/models"
)

// ErrResample marks degenerate or incompatible grids. Recoverable at
// session granularity: the driver abandons the session and moves on.
var ErrResample = errors.New("resample failed")

// NearestNeighbor resamples src onto the target grid. Each target voxel is
// mapped through the target affine into world space, then through the
// inverted source affine into source voxel space, and takes the value of the
// nearest source voxel. Voxels falling outside the source volume become 0.
//
// Nearest-neighbour is mandatory for label masks; it is applied to
// probability maps as well so both kinds stay grid-aligned, matching the
// upstream pipeline.
func NearestNeighbor(src *models.Volume, target models.Grid) (*models.Volume, error) {
	if target.Degenerate() {
		return nil, errors.Wrapf(ErrResample, "degenerate target shape %v", target.Shape)
	}
	if src.Grid.Degenerate() {
		return nil, errors.Wrapf(ErrResample, "degenerate source shape %v", src.Grid.Shape)
	}

	// world -> source voxel transform
	srcAff := mat.NewDense(4, 4, flatten(src.Grid.Affine))
	var inv mat.Dense
	if err := inv.Inverse(srcAff); err != nil {
		return nil, errors.Wrapf(ErrResample, "source affine is not invertible: %v", err)
	}

	// Fold target-affine and inverse-source-affine into one voxel-to-voxel
	// transform so the inner loop is a single matrix application.
	tgtAff := mat.NewDense(4, 4, flatten(target.Affine))
	var vox2vox mat.Dense
	vox2vox.Mul(&inv, tgtAff)

	var m [3][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = vox2vox.At(i, j)
		}
	}

	out := models.NewVolume(target)
	nx, ny, nz := target.Shape[0], target.Shape[1], target.Shape[2]
	sx, sy, sz := src.Grid.Shape[0], src.Grid.Shape[1], src.Grid.Shape[2]

	idx := 0
	for k := 0; k < nz; k++ {
		fk := float64(k)
		for j := 0; j < ny; j++ {
			fj := float64(j)
			for i := 0; i < nx; i++ {
				fi := float64(i)

				si := int(math.Round(m[0][0]*fi + m[0][1]*fj + m[0][2]*fk + m[0][3]))
				sj := int(math.Round(m[1][0]*fi + m[1][1]*fj + m[1][2]*fk + m[1][3]))
				sk := int(math.Round(m[2][0]*fi + m[2][1]*fj + m[2][2]*fk + m[2][3]))

				if si >= 0 && sj >= 0 && sk >= 0 && si < sx && sj < sy && sk < sz {
					out.Data[idx] = src.Data[si+sj*sx+sk*sx*sy]
				}
				idx++
			}
		}
	}
	return out, nil
}

func flatten(a [4][4]float64) []float64 {
	flat := make([]float64, 16)
	for i := 0; i < 4; i++ {
		copy(flat[i*4:(i+1)*4], a[i][:])
	}
	return flat
}
