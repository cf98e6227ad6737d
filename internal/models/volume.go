package models

import (
	"fmt"
	"math"
)

// Kind distinguishes the two families of atlas entries.
type Kind int

const (
	// ROI is a discrete-label region-of-interest mask.
	ROI Kind = iota

	// TPM is a continuous-valued tissue-probability map.
	TPM
)

// String returns the lowercase tag used in logs and output tables.
func (k Kind) String() string {
	switch k {
	case ROI:
		return "roi"
	case TPM:
		return "tpm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Grid describes the voxel lattice of a volume: its shape in voxels and the
// 4x4 affine mapping voxel indices (i,j,k,1) to physical coordinates.
type Grid struct {
	// Shape is the number of voxels along x, y and z.
	Shape [3]int

	// Affine is the voxel-to-world transform, row major.
	Affine [4][4]float64
}

// Equal reports whether two grids describe the same lattice. The shape must
// match exactly and the affine is compared element-wise. The source pipeline
// compared a summed-affine digest instead; distinct affines can share a sum,
// so the digest survives only as a log value (see AffineSum).
func (g Grid) Equal(o Grid) bool {
	if g.Shape != o.Shape {
		return false
	}
	return g.Affine == o.Affine
}

// AffineSum returns the sum of all 16 affine entries. Debug digest only,
// never used as an equality check.
func (g Grid) AffineSum() float64 {
	s := 0.0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s += g.Affine[i][j]
		}
	}
	return s
}

// NVoxels returns the total voxel count of the grid.
func (g Grid) NVoxels() int {
	return g.Shape[0] * g.Shape[1] * g.Shape[2]
}

// Degenerate reports whether the grid cannot hold any voxels.
func (g Grid) Degenerate() bool {
	return g.Shape[0] <= 0 || g.Shape[1] <= 0 || g.Shape[2] <= 0
}

// VoxelToWorld maps a voxel index to physical coordinates through the affine.
func (g Grid) VoxelToWorld(i, j, k int) (x, y, z float64) {
	fi, fj, fk := float64(i), float64(j), float64(k)
	x = g.Affine[0][0]*fi + g.Affine[0][1]*fj + g.Affine[0][2]*fk + g.Affine[0][3]
	y = g.Affine[1][0]*fi + g.Affine[1][1]*fj + g.Affine[1][2]*fk + g.Affine[1][3]
	z = g.Affine[2][0]*fi + g.Affine[2][1]*fj + g.Affine[2][2]*fk + g.Affine[2][3]
	return x, y, z
}

// IdentityAffine returns a unit-spacing affine with no translation.
func IdentityAffine() [4][4]float64 {
	return [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Volume is a 3D scalar image on a Grid. Data is stored with x varying
// fastest (NIfTI order): index = x + y*nx + z*nx*ny.
type Volume struct {
	Data []float64
	Grid Grid
}

// NewVolume allocates a zero-filled volume on the given grid.
func NewVolume(grid Grid) *Volume {
	return &Volume{
		Data: make([]float64, grid.NVoxels()),
		Grid: grid,
	}
}

// At returns the value at voxel (x,y,z). Out-of-range indices return NaN.
func (v *Volume) At(x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 ||
		x >= v.Grid.Shape[0] || y >= v.Grid.Shape[1] || z >= v.Grid.Shape[2] {
		return math.NaN()
	}
	return v.Data[x+y*v.Grid.Shape[0]+z*v.Grid.Shape[0]*v.Grid.Shape[1]]
}

// Set stores a value at voxel (x,y,z). Out-of-range indices are ignored.
func (v *Volume) Set(x, y, z int, value float64) {
	if x < 0 || y < 0 || z < 0 ||
		x >= v.Grid.Shape[0] || y >= v.Grid.Shape[1] || z >= v.Grid.Shape[2] {
		return
	}
	v.Data[x+y*v.Grid.Shape[0]+z*v.Grid.Shape[0]*v.Grid.Shape[1]] = value
}

// Fill sets every voxel to the given value.
func (v *Volume) Fill(value float64) {
	for i := range v.Data {
		v.Data[i] = value
	}
}
