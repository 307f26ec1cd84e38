package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// DefaultDPI is used to rasterize PDF scene images.
const DefaultDPI = 150

var (
	// ErrNoImages is returned when there is nothing to decode.
	ErrNoImages = errors.New("no scene images")
	// ErrUnsupportedMIME is returned for image formats no decoder handles.
	ErrUnsupportedMIME = errors.New("unsupported image mime type")
	// ErrEmptyImage is returned for zero-length image data or zero-size rasters.
	ErrEmptyImage = errors.New("empty image")
)

// SceneImage is one generated still, in narration order.
type SceneImage struct {
	Bytes    []byte
	MIMEType string
}

// DecodedFrame is a SceneImage decoded into a drawable raster.
type DecodedFrame struct {
	Image  *image.RGBA
	Width  int
	Height int
}

// DecodeError reports which scene image could not be decoded.
type DecodeError struct {
	Index    int
	MIMEType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode scene image %d (%s): %v", e.Index, e.MIMEType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns SceneImages into DecodedFrames.
type Decoder struct {
	// Workers bounds concurrent decodes; zero or less means unbounded.
	Workers int
	// DPI is the rasterization density for PDF scene images.
	DPI int
}

// NewDecoder creates a Decoder with the given concurrency.
func NewDecoder(workers int) *Decoder {
	return &Decoder{Workers: workers, DPI: DefaultDPI}
}

// Decode decodes every image concurrently and returns the frames in input
// order. If any image fails the whole call fails with a *DecodeError and no
// frames are returned.
func (d *Decoder) Decode(ctx context.Context, images []SceneImage) ([]DecodedFrame, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	frames := make([]DecodedFrame, len(images))
	g, gctx := errgroup.WithContext(ctx)
	if d.Workers > 0 {
		g.SetLimit(d.Workers)
	}

	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frame, err := d.DecodeOne(img)
			if err != nil {
				return &DecodeError{Index: i, MIMEType: img.MIMEType, Err: err}
			}
			frames[i] = frame
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

// DecodeOne decodes a single scene image.
func (d *Decoder) DecodeOne(si SceneImage) (DecodedFrame, error) {
	if len(si.Bytes) == 0 {
		return DecodedFrame{}, ErrEmptyImage
	}

	mt := normalizeMIME(si.MIMEType)
	if mt == "" {
		mt = normalizeMIME(mimetype.Detect(si.Bytes).String())
	}

	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(si.Bytes)
	switch mt {
	case "image/png":
		img, err = png.Decode(r)
	case "image/jpeg", "image/jpg":
		img, err = jpeg.Decode(r)
	case "image/gif":
		img, err = gif.Decode(r)
	case "image/webp":
		img, err = webp.Decode(r)
	case "image/bmp", "image/x-ms-bmp":
		img, err = bmp.Decode(r)
	case "image/tiff":
		img, err = tiff.Decode(r)
	case "application/pdf":
		img, err = d.decodePDF(si.Bytes)
	default:
		return DecodedFrame{}, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mt)
	}
	if err != nil {
		return DecodedFrame{}, err
	}

	rgba := toRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return DecodedFrame{}, ErrEmptyImage
	}
	return DecodedFrame{Image: rgba, Width: w, Height: h}, nil
}

func (d *Decoder) decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, ErrEmptyImage
	}
	dpi := d.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return doc.ImageDPI(0, float64(dpi))
}

func normalizeMIME(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// toRGBA returns img as an *image.RGBA anchored at the origin with a tight stride.
func toRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if ok && rgba.Stride == bounds.Dx()*4 && rgba.Rect.Min.X == 0 && rgba.Rect.Min.Y == 0 {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	return out
}
