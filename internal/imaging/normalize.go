package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels every tensor carries.
const Channels = 3

// Size is a model input size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Tensor is a single normalized image in NHWC layout with a batch of 1.
type Tensor struct {
	Data   []float32
	Width  int
	Height int
}

// Shape returns (1, height, width, 3).
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), Channels}
}

// At returns the value of channel c at pixel (x, y).
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*Channels+c]
}

// DefaultMaxPixels caps the canvas an upload may declare when Options
// leaves MaxPixels unset.
const DefaultMaxPixels = 89_478_485

// Options tune decoding.
type Options struct {
	// CorrectOrientation applies the JPEG EXIF orientation before resizing.
	CorrectOrientation bool
	// MaxPixels rejects images whose header declares more pixels than this.
	MaxPixels int64
}

func (o Options) maxPixels() int64 {
	if o.MaxPixels > 0 {
		return o.MaxPixels
	}
	return DefaultMaxPixels
}

// DecodeError reports bytes that could not be turned into an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errEmptyImage = errors.New("image has zero area")

	// ErrTooManyPixels is wrapped in a DecodeError when an image declares
	// dimensions beyond Options.MaxPixels.
	ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")
)

// Decode turns raw upload bytes into an image. The header is checked against
// opts.MaxPixels before any pixel data is decoded.
func Decode(data []byte, opts Options) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > opts.maxPixels() {
		return nil, "", &DecodeError{
			Err: fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, opts.maxPixels()),
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, "", &DecodeError{Err: errEmptyImage}
	}

	if opts.CorrectOrientation && format == "jpeg" {
		img = Orient(img, Orientation(data))
	}

	return img, format, nil
}

// Normalize decodes data and letterboxes it into a tensor of the given size.
func Normalize(data []byte, size Size, opts Options) (*Tensor, error) {
	img, _, err := Decode(data, opts)
	if err != nil {
		return nil, err
	}
	return FromImage(img, size), nil
}

// FromImage letterboxes an already decoded image into a tensor.
func FromImage(img image.Image, size Size) *Tensor {
	return ToTensor(Letterbox(img, size))
}

// Placement returns the region a letterboxed image of size orig occupies
// inside a canvas of size target.
func Placement(orig image.Point, target Size) image.Rectangle {
	tw, th := target.Width, target.Height
	ow, oh := orig.X, orig.Y

	var nw, nh int
	// Compare tw/ow with th/oh without floats so the limiting axis lands
	// exactly on the target.
	if tw*oh <= th*ow {
		nw = tw
		nh = oh * tw / ow
	} else {
		nh = th
		nw = ow * th / oh
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	x := (tw - nw) / 2
	y := (th - nh) / 2
	return image.Rect(x, y, x+nw, y+nh)
}

// Letterbox scales img to fit size while preserving its aspect ratio and
// centers it on a black canvas of exactly that size.
func Letterbox(img image.Image, size Size) *image.RGBA {
	bounds := img.Bounds()
	region := Placement(bounds.Size(), size)

	resized := resize.Resize(uint(region.Dx()), uint(region.Dy()), img, resize.Lanczos3)

	canvas := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(canvas, region, resized, resized.Bounds().Min, draw.Over)

	return canvas
}

// ToTensor scales each channel of an opaque canvas to [0,1].
func ToTensor(canvas *image.RGBA) *Tensor {
	bounds := canvas.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]float32, width*height*Channels)
	for y := 0; y < height; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < width; x++ {
			src := row[x*4:]
			dst := data[(y*width+x)*Channels:]
			dst[0] = float32(src[0]) / 255.0
			dst[1] = float32(src[1]) / 255.0
			dst[2] = float32(src[2]) / 255.0
		}
	}

	return &Tensor{Data: data, Width: width, Height: height}
}
