// Package qc renders the per-session sanity-check montage: three anatomical
// planes of the reference volume, once overlaid with the selected ROI mask
// and once with the selected tissue-probability map.
package qc

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/cockroachdb/errors"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"radextract/internal/models"
)

const (
	cellSize   = 256
	margin     = 8
	labelBand  = 18
	maskAlpha  = 0.3
	maskThresh = 0.05
)

var (
	roiColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	tpmColor = color.RGBA{R: 255, G: 160, B: 0, A: 255}
)

var planeNames = [3]string{"Sagittal", "Coronal", "Axial"}

// Render writes a 2-row by 3-column PNG montage to outPath, overwriting any
// existing file. Row 0 overlays the ROI mask, row 1 the TPM, each on the
// central sagittal, coronal and axial slice of the reference volume. The two
// masks must already live on the reference grid.
func Render(ref, roi, tpm *models.Volume, title, outPath string) error {
	if ref.Grid.Degenerate() {
		return errors.Newf("reference volume has degenerate shape %v", ref.Grid.Shape)
	}

	lo, hi := intensityWindow(ref)

	canvas := image.NewRGBA(image.Rect(0, 0,
		3*cellSize+4*margin,
		2*cellSize+3*margin+2*labelBand+labelBand))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	masks := [2]*models.Volume{roi, tpm}
	overlays := [2]color.RGBA{roiColor, tpmColor}
	rowTags := [2]string{"ROI", "TPM"}

	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			panel := renderPanel(ref, masks[row], overlays[row], col, lo, hi)

			x0 := margin + col*(cellSize+margin)
			y0 := labelBand + margin + row*(cellSize+margin+labelBand)
			cell := image.Rect(x0, y0, x0+cellSize, y0+cellSize)
			xdraw.NearestNeighbor.Scale(canvas, cell, panel, panel.Bounds(), xdraw.Src, nil)

			drawLabel(canvas, x0, y0+cellSize+12, rowTags[row]+": "+planeNames[col])
		}
	}
	drawLabel(canvas, margin, 12, title)

	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	defer f.Close()
	if err := png.Encode(f, canvas); err != nil {
		return errors.Wrapf(err, "encoding %s", outPath)
	}
	return nil
}

// renderPanel produces one plane: grayscale reference with the mask blended
// in at fixed transparency. Slices are displayed transposed with the origin
// at the lower left, matching the usual radiological montage convention.
func renderPanel(ref, mask *models.Volume, overlay color.RGBA, plane int, lo, hi float64) *image.RGBA {
	cx := ref.Grid.Shape[0] / 2
	cy := ref.Grid.Shape[1] / 2
	cz := ref.Grid.Shape[2] / 2

	var w, h int
	var sample func(u, v int) (float64, float64)
	switch plane {
	case 0: // sagittal: YZ plane at central x
		w, h = ref.Grid.Shape[1], ref.Grid.Shape[2]
		sample = func(u, v int) (float64, float64) {
			return ref.At(cx, u, h-1-v), mask.At(cx, u, h-1-v)
		}
	case 1: // coronal: XZ plane at central y
		w, h = ref.Grid.Shape[0], ref.Grid.Shape[2]
		sample = func(u, v int) (float64, float64) {
			return ref.At(u, cy, h-1-v), mask.At(u, cy, h-1-v)
		}
	default: // axial: XY plane at central z
		w, h = ref.Grid.Shape[0], ref.Grid.Shape[1]
		sample = func(u, v int) (float64, float64) {
			return ref.At(u, h-1-v, cz), mask.At(u, h-1-v, cz)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			refVal, maskVal := sample(u, v)
			g := grayLevel(refVal, lo, hi)
			r, gg, b := float64(g), float64(g), float64(g)
			if !math.IsNaN(maskVal) && maskVal > maskThresh {
				r = r*(1-maskAlpha) + float64(overlay.R)*maskAlpha
				gg = gg*(1-maskAlpha) + float64(overlay.G)*maskAlpha
				b = b*(1-maskAlpha) + float64(overlay.B)*maskAlpha
			}
			img.SetRGBA(u, v, color.RGBA{R: uint8(r), G: uint8(gg), B: uint8(b), A: 255})
		}
	}
	return img
}

// intensityWindow returns the finite min/max of the volume for grayscale
// normalization. A flat volume maps everything to mid-gray.
func intensityWindow(vol *models.Volume) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vol.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(lo, 1) || lo == hi {
		return 0, 1
	}
	return lo, hi
}

func grayLevel(v, lo, hi float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	t := (v - lo) / (hi - lo)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint8(t * 255)
}

func drawLabel(dst *image.RGBA, x, y int, text string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
