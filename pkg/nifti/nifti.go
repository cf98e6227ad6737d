// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz) on top of github.com/KyungWonPark/nifti. The adapter adds what
// the pipeline needs beyond the library: error returns instead of printed
// failures and panics, restoration of signed integer datatypes, the
// sform/qform/pixdim affine, scl slope/intercept scaling and uncompressed
// output. Only 3D volumes are covered; 4D inputs keep the first frame.
package nifti

import (
	"encoding/binary"
	"math"
	"os"
	"strings"

	kwnifti "github.com/KyungWonPark/nifti"
	"github.com/cockroachdb/errors"

	"radextract/internal/models"
)

const (
	headerSize       = 348
	defaultVoxOffset = 352
)

// NIfTI-1 datatype codes (nifti1.h DT_*).
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
)

// Read loads a NIfTI-1 volume from disk. Compression is keyed off the .gz
// extension, as the underlying library does.
func Read(path string) (vol *models.Volume, err error) {
	if _, serr := os.Stat(path); serr != nil {
		return nil, errors.Wrapf(serr, "reading %s", path)
	}
	// The library panics on truncated data sections and unsupported voxel
	// widths; contain that behind the error return.
	defer func() {
		if r := recover(); r != nil {
			vol, err = nil, errors.Newf("%s: malformed NIfTI data (%v)", path, r)
		}
	}()

	var img kwnifti.Nifti1Image
	img.LoadImage(path, true)

	hdr := img.GetHeader()
	if err := validateHeader(hdr, path); err != nil {
		return nil, err
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	data := make([]float64, nx*ny*nz)
	idx := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[idx] = decodeValue(img.GetAt(uint32(x), uint32(y), uint32(z), 0), hdr.Datatype)
				idx++
			}
		}
	}

	// scl_slope == 0 means "no scaling stored", per the NIfTI-1 convention.
	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	return &models.Volume{
		Data: data,
		Grid: models.Grid{
			Shape:  [3]int{nx, ny, nz},
			Affine: affineFromHeader(hdr),
		},
	}, nil
}

// ReadGrid loads only the grid of a NIfTI volume, without the data section.
func ReadGrid(path string) (grid models.Grid, err error) {
	if _, serr := os.Stat(path); serr != nil {
		return models.Grid{}, errors.Wrapf(serr, "reading %s", path)
	}
	defer func() {
		if r := recover(); r != nil {
			grid, err = models.Grid{}, errors.Newf("%s: malformed NIfTI header (%v)", path, r)
		}
	}()

	var hdr kwnifti.Nifti1Header
	hdr.LoadHeader(path)
	if err := validateHeader(hdr, path); err != nil {
		return models.Grid{}, err
	}
	return models.Grid{
		Shape:  [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])},
		Affine: affineFromHeader(hdr),
	}, nil
}

// validateHeader rejects what the library loads silently: non-NIfTI input
// (a zero header after a failed load included), two-file pairs, degenerate
// shapes and datatypes the pipeline cannot interpret.
func validateHeader(hdr kwnifti.Nifti1Header, path string) error {
	if hdr.SizeofHdr != headerSize {
		return errors.Newf("%s: not a NIfTI-1 file (sizeof_hdr %d)", path, hdr.SizeofHdr)
	}
	magic := string(hdr.Magic[:3])
	if magic == "ni1" {
		return errors.Newf("%s: two-file (.hdr/.img) NIfTI pairs are not supported", path)
	}
	if magic != "n+1" {
		return errors.Newf("%s: bad magic %q", path, magic)
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 7 {
		return errors.Newf("%s: unsupported dimensionality %d", path, ndim)
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return errors.Newf("%s: degenerate shape %dx%dx%d", path, nx, ny, nz)
	}

	switch hdr.Datatype {
	case dtUint8, dtInt8, dtInt16, dtUint16, dtInt32, dtFloat32, dtFloat64:
		return nil
	}
	return errors.Newf("%s: unsupported datatype code %d", path, hdr.Datatype)
}

// decodeValue restores the on-disk datatype from the library's raw voxel
// value. GetAt reinterprets every 2-byte voxel as uint16 and every 4-byte
// voxel as float32 bits, so int8, int16 and int32 come back with the wrong
// sign or as bit soup until converted back.
func decodeValue(raw float32, datatype int16) float64 {
	switch datatype {
	case dtInt8:
		return float64(int8(uint8(raw)))
	case dtInt16:
		return float64(int16(uint16(raw)))
	case dtInt32:
		return float64(int32(math.Float32bits(raw)))
	default:
		return float64(raw)
	}
}

// affineFromHeader picks the voxel-to-world transform the way nibabel does:
// sform when present, else qform, else a pixdim diagonal.
func affineFromHeader(hdr kwnifti.Nifti1Header) [4][4]float64 {
	if hdr.SformCode > 0 {
		var a [4][4]float64
		for j := 0; j < 4; j++ {
			a[0][j] = float64(hdr.SrowX[j])
			a[1][j] = float64(hdr.SrowY[j])
			a[2][j] = float64(hdr.SrowZ[j])
		}
		a[3][3] = 1
		return a
	}
	if hdr.QformCode > 0 {
		return qformAffine(hdr)
	}

	a := models.IdentityAffine()
	for i := 0; i < 3; i++ {
		d := float64(hdr.Pixdim[i+1])
		if d == 0 {
			d = 1
		}
		a[i][i] = d
	}
	return a
}

// qformAffine reconstructs the quaternion-based transform per nifti1.h. The
// library stores the quaternion fields but never computes the matrix.
func qformAffine(hdr kwnifti.Nifti1Header) [4][4]float64 {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	aa := 1.0 - b*b - c*c - d*d
	if aa < 0 {
		aa = 0
	}
	qa := math.Sqrt(aa)

	qfac := float64(hdr.Pixdim[0])
	if qfac >= 0 {
		qfac = 1
	} else {
		qfac = -1
	}

	dx := float64(hdr.Pixdim[1])
	dy := float64(hdr.Pixdim[2])
	dz := float64(hdr.Pixdim[3]) * qfac

	r := [3][3]float64{
		{qa*qa + b*b - c*c - d*d, 2*b*c - 2*qa*d, 2*b*d + 2*qa*c},
		{2*b*c + 2*qa*d, qa*qa + c*c - b*b - d*d, 2*c*d - 2*qa*b},
		{2*b*d - 2*qa*c, 2*c*d + 2*qa*b, qa*qa + d*d - c*c - b*b},
	}

	var a [4][4]float64
	for i := 0; i < 3; i++ {
		a[i][0] = r[i][0] * dx
		a[i][1] = r[i][1] * dy
		a[i][2] = r[i][2] * dz
	}
	a[0][3] = float64(hdr.QoffsetX)
	a[1][3] = float64(hdr.QoffsetY)
	a[2][3] = float64(hdr.QoffsetZ)
	a[3][3] = 1
	return a
}

// Write stores a volume as a float32 single-file NIfTI-1 image, compressed
// when the path ends in .gz. The grid affine is written as the sform.
func Write(path string, vol *models.Volume) error {
	if vol.Grid.Degenerate() {
		return errors.Newf("refusing to write degenerate shape %v", vol.Grid.Shape)
	}
	if len(vol.Data) != vol.Grid.NVoxels() {
		return errors.Newf("data length %d does not match shape %v", len(vol.Data), vol.Grid.Shape)
	}
	if strings.HasSuffix(path, ".gz") {
		return writeGzip(path, vol)
	}
	return writePlain(path, vol)
}

func writeGzip(path string, vol *models.Volume) (err error) {
	// Save reports I/O failure by panicking, and appends ".gz" to the name
	// it is handed.
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("writing %s: %v", path, r)
		}
	}()

	nx, ny, nz := vol.Grid.Shape[0], vol.Grid.Shape[1], vol.Grid.Shape[2]
	img := kwnifti.NewImg(nx, ny, nz, 1)
	img.SetNewHeader(imageHeader(vol))

	idx := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetAt(uint32(x), uint32(y), uint32(z), 0, float32(vol.Data[idx]))
				idx++
			}
		}
	}

	img.Save(strings.TrimSuffix(path, ".gz"))
	return nil
}

// writePlain covers the one output mode the library lacks: Save always
// gzip-compresses, so uncompressed .nii files are encoded here, reusing the
// library's header layout.
func writePlain(path string, vol *models.Volume) error {
	hdr := imageHeader(vol)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrapf(err, "writing header of %s", path)
	}
	// Four zero bytes: no header extensions.
	if _, err := f.Write([]byte{0, 0, 0, 0}); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}

	voxels := make([]byte, 4*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint32(voxels[i*4:], math.Float32bits(float32(v)))
	}
	if _, err := f.Write(voxels); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func imageHeader(vol *models.Volume) kwnifti.Nifti1Header {
	var hdr kwnifti.Nifti1Header
	hdr.SizeofHdr = headerSize
	hdr.Regular = 'r'
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(vol.Grid.Shape[0])
	hdr.Dim[2] = int16(vol.Grid.Shape[1])
	hdr.Dim[3] = int16(vol.Grid.Shape[2])
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.Datatype = dtFloat32
	hdr.Bitpix = 32
	hdr.VoxOffset = defaultVoxOffset
	hdr.SclSlope = 1
	hdr.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		hdr.Pixdim[i+1] = float32(columnNorm(vol.Grid.Affine, i))
	}
	hdr.SformCode = 1
	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(vol.Grid.Affine[0][j])
		hdr.SrowY[j] = float32(vol.Grid.Affine[1][j])
		hdr.SrowZ[j] = float32(vol.Grid.Affine[2][j])
	}
	copy(hdr.Descrip[:], "radextract")
	hdr.Magic = [4]byte{'n', '+', '1', 0}
	return hdr
}

func columnNorm(a [4][4]float64, col int) float64 {
	n := math.Sqrt(a[0][col]*a[0][col] + a[1][col]*a[1][col] + a[2][col]*a[2][col])
	if n == 0 {
		return 1
	}
	return n
}
