package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	InputSize = 224
	Channels  = 3
	TensorLen = InputSize * InputSize * Channels
)

// DefaultMaxPixels caps width*height of an accepted image so that a small,
// highly compressed file cannot force a huge decode buffer.
const DefaultMaxPixels = 40_000_000

var (
	ErrImageDecode   = errors.New("image decode failed")
	ErrImageTooLarge = errors.New("image dimensions exceed limit")
)

// DecodeError reports an image that could not be opened or decoded. Path is
// empty for images read from a stream.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to decode image: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode image %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrImageDecode
}

// Decode reads the image header first and refuses images with more than
// maxPixels pixels before any pixel data is decoded. maxPixels <= 0 means
// DefaultMaxPixels.
func Decode(r io.Reader, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d, max %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)}
	}

	img, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

// DecodeFile opens and decodes the image at path with the Decode size guard.
func DecodeFile(path string, maxPixels int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, err := Decode(f, maxPixels)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Path = path
		}
		return nil, err
	}
	return img, nil
}

// Tensor stretches img to InputSize x InputSize with bilinear interpolation and
// lays it out as a batch-of-one NHWC float tensor: rows top to bottom, pixels
// left to right, R G B per pixel, each channel divided by 255. Alpha is dropped.
func Tensor(img image.Image) []float32 {
	resized := resize.Resize(InputSize, InputSize, img, resize.Bilinear)
	bounds := resized.Bounds()

	data := make([]float32, TensorLen)
	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+InputSize; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+InputSize; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			data[i] = float32(c.R) / 255.0
			data[i+1] = float32(c.G) / 255.0
			data[i+2] = float32(c.B) / 255.0
			i += Channels
		}
	}
	return data
}

// File decodes the image at path and converts it with Tensor.
func File(path string, maxPixels int) ([]float32, error) {
	img, err := DecodeFile(path, maxPixels)
	if err != nil {
		return nil, err
	}
	return Tensor(img), nil
}
