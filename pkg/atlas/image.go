package atlas

import (
	"fmt"
	"image"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Composite draws patches onto a canvas of the layout's size, each at the corner of its
// placement.
// patches is indexed by PatchID; nil entries are left transparent black. Rotated patches are
// transposed.
func Composite(layout *Layout, patches []*image.NRGBA) (*image.NRGBA, error) {
	if len(patches) > len(layout.Placements) {
		return nil, fmt.Errorf("%d patches for %d placements", len(patches), len(layout.Placements))
	}
	dst := image.NewNRGBA(image.Rect(0, 0, layout.Width, layout.Height))
	for id, src := range patches {
		if src == nil {
			continue
		}
		pl := layout.Placements[id]
		sb := src.Bounds()
		w, h := sb.Dx(), sb.Dy()
		if pl.Rotated {
			w, h = h, w
		}
		if w > pl.Width || h > pl.Height {
			return nil, fmt.Errorf("patch %d is %dx%d, placed in %dx%d", id, w, h, pl.Width, pl.Height)
		}
		if !pl.Rotated {
			draw.Draw(dst, image.Rect(pl.X, pl.Y, pl.X+w, pl.Y+h), src, sb.Min, draw.Src)
			continue
		}
		for y := 0; y < sb.Dy(); y++ {
			for x := 0; x < sb.Dx(); x++ {
				dst.SetNRGBA(pl.X+y, pl.Y+x, src.NRGBAAt(sb.Min.X+x, sb.Min.Y+y))
			}
		}
	}
	return dst, nil
}

// DumpBMP writes a baked canvas as a BMP for inspection.
func DumpBMP(w io.Writer, img image.Image) error {
	return bmp.Encode(w, img)
}
