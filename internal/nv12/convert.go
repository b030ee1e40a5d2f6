// Package nv12 converts compressed viewfinder frames into planar NV12: a
// full-resolution luma plane followed by a half-resolution plane of
// interleaved CbCr pairs.
package nv12

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/video-system/go-canon-capture/pkg/camera"
)

// Converter holds the reusable RGB scratch buffer so the per-frame hot path
// does not allocate. One converter per capture loop; not safe for
// concurrent use.
type Converter struct {
	rgb []byte
}

// NewConverter returns an empty converter; the scratch buffer grows to the
// largest native frame seen.
func NewConverter() *Converter {
	return &Converter{}
}

// Convert decodes one JPEG frame and writes it as NV12 into dst, returning
// the decoder's native dimensions. Those dimensions are authoritative:
// downstream must use them, not the configured ones. On any decode failure
// dst is left unpublished and ErrDecodeFailure is returned.
func (c *Converter) Convert(jpegData []byte, dst []byte) (int, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", camera.ErrDecodeFailure, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: empty image", camera.ErrDecodeFailure)
	}

	ySize := width * height
	chromaStride := (width / 2) * 2
	chromaSize := (height / 2) * chromaStride
	if ySize+chromaSize > len(dst) {
		return 0, 0, fmt.Errorf("%w: %dx%d frame exceeds %d byte buffer",
			camera.ErrInvalidParam, width, height, len(dst))
	}

	c.fillRGB(img)
	rgb := c.rgb

	// Luma plane: BT.601 weighted sum, truncated to 8 bits.
	for px, di := 0, 0; di < ySize; px, di = px+3, di+1 {
		r := int(rgb[px])
		g := int(rgb[px+1])
		b := int(rgb[px+2])
		dst[di] = uint8((299*r + 587*g + 114*b) / 1000)
	}

	// Chroma plane: one interleaved CbCr pair per 2x2 block, sampled from
	// the block's top-left pixel, written at the half-resolution
	// coordinate with the half-stride layout.
	for y := 0; y < (height/2)*2; y += 2 {
		row := y * width * 3
		out := ySize + (y/2)*chromaStride
		for x := 0; x < chromaStride; x += 2 {
			px := row + x*3
			r := int(rgb[px])
			g := int(rgb[px+1])
			b := int(rgb[px+2])
			dst[out+x] = clamp8((-169*r-331*g+500*b)/1000 + 128)
			dst[out+x+1] = clamp8((500*r-419*g-81*b)/1000 + 128)
		}
	}

	return width, height, nil
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// fillRGB expands the decoded image into the interleaved RGB scratch buffer
// at native resolution. Fast paths cover the subimage types image/jpeg
// actually produces.
func (c *Converter) fillRGB(img image.Image) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	need := width * height * 3
	if cap(c.rgb) < need {
		c.rgb = make([]byte, need)
	}
	c.rgb = c.rgb[:need]

	switch src := img.(type) {
	case *image.YCbCr:
		i := 0
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yi := src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := src.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				r, g, b := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				c.rgb[i] = r
				c.rgb[i+1] = g
				c.rgb[i+2] = b
				i += 3
			}
		}
	case *image.Gray:
		i := 0
		for y := 0; y < height; y++ {
			row := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < width; x++ {
				v := src.Pix[row+x]
				c.rgb[i] = v
				c.rgb[i+1] = v
				c.rgb[i+2] = v
				i += 3
			}
		}
	case *image.RGBA:
		i := 0
		for y := 0; y < height; y++ {
			pi := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < width; x++ {
				c.rgb[i] = src.Pix[pi]
				c.rgb[i+1] = src.Pix[pi+1]
				c.rgb[i+2] = src.Pix[pi+2]
				i += 3
				pi += 4
			}
		}
	default:
		i := 0
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				c.rgb[i] = uint8(r >> 8)
				c.rgb[i+1] = uint8(g >> 8)
				c.rgb[i+2] = uint8(b >> 8)
				i += 3
			}
		}
	}
}
