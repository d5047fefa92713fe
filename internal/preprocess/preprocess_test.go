package preprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaf.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestTensor_FixedLength(t *testing.T) {
	for _, size := range []image.Point{{1, 1}, {50, 300}, {224, 224}, {640, 480}} {
		data := Tensor(solidImage(size.X, size.Y, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
		require.Len(t, data, TensorLen, "size %v", size)
	}
}

func TestTensor_ChannelOrderAndScale(t *testing.T) {
	data := Tensor(solidImage(100, 60, color.RGBA{R: 50, G: 200, B: 255, A: 255}))

	for i := 0; i < len(data); i += Channels {
		require.InDelta(t, 50.0/255.0, data[i], 1e-6)
		require.InDelta(t, 200.0/255.0, data[i+1], 1e-6)
		require.InDelta(t, 1.0, data[i+2], 1e-6)
	}
}

func TestTensor_RowMajor(t *testing.T) {
	// top half red, bottom half blue
	img := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			if y < InputSize/2 {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	data := Tensor(img)
	first := 0
	last := TensorLen - Channels
	require.InDelta(t, 1.0, data[first], 1e-6)
	require.InDelta(t, 0.0, data[first+2], 1e-6)
	require.InDelta(t, 0.0, data[last], 1e-6)
	require.InDelta(t, 1.0, data[last+2], 1e-6)
}

func TestTensor_NonZeroOrigin(t *testing.T) {
	img := solidImage(300, 300, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	sub := img.SubImage(image.Rect(40, 40, 240, 200))

	data := Tensor(sub)
	require.Len(t, data, TensorLen)
	require.InDelta(t, 1.0, data[TensorLen-1], 1e-6)
}

func TestFile(t *testing.T) {
	path := writePNG(t, solidImage(32, 16, color.RGBA{R: 128, G: 128, B: 128, A: 255}))

	data, err := File(path, 0)
	require.NoError(t, err)
	require.Len(t, data, TensorLen)
	require.InDelta(t, 128.0/255.0, data[0], 1e-6)
}

func TestDecodeFile_JPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, solidImage(20, 20, color.RGBA{G: 200, A: 255}), nil))
	require.NoError(t, f.Close())

	img, err := DecodeFile(path, 0)
	require.NoError(t, err)
	require.Equal(t, 20, img.Bounds().Dx())
}

func TestDecodeFile_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.jpg")
	_, err := DecodeFile(missing, 0)
	require.ErrorIs(t, err, ErrImageDecode)
	require.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, err = File(garbage, 0)
	require.ErrorIs(t, err, ErrImageDecode)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, garbage, decodeErr.Path)
}

// pngHeader returns a PNG signature plus IHDR chunk for an 8-bit grayscale
// image of the given size, with no pixel data.
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, width)
	chunk = binary.BigEndian.AppendUint32(chunk, height)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader(pngHeader(16000, 16000)), 0)
	require.ErrorIs(t, err, ErrImageDecode)
	require.ErrorIs(t, err, ErrImageTooLarge)

	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, pngHeader(100000, 100000), 0o644))
	_, err = File(path, 0)
	require.ErrorIs(t, err, ErrImageTooLarge)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, path, decodeErr.Path)
}

func TestDecode_PixelLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(20, 20, color.RGBA{G: 255, A: 255})))

	_, err := Decode(bytes.NewReader(buf.Bytes()), 399)
	require.ErrorIs(t, err, ErrImageTooLarge)

	img, err := Decode(bytes.NewReader(buf.Bytes()), 400)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
}

func TestTensor_BilinearBlend(t *testing.T) {
	// 2x2 image, black left column, red right column, stretched to 224 wide
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		img.SetRGBA(0, y, color.RGBA{A: 255})
		img.SetRGBA(1, y, color.RGBA{R: 255, A: 255})
	}

	data := Tensor(img)
	red := func(x int) float32 { return data[x*Channels] }

	// sample centres map back to source x = (x+0.5)*2/224 - 0.5
	require.InDelta(t, 0.0, red(0), 1e-6)
	require.InDelta(t, 1.0, red(InputSize-1), 1e-6)
	for _, x := range []int{70, 111, 150} {
		want := (float64(x)+0.5)*2/InputSize - 0.5
		require.InDelta(t, want, red(x), 0.02, "x=%d", x)
		require.Greater(t, red(x), float32(0))
		require.Less(t, red(x), float32(1))
	}
	for x := 1; x < InputSize; x++ {
		require.GreaterOrEqual(t, red(x), red(x-1), "x=%d", x)
	}
	// every row is the same blend
	require.Equal(t, red(111), data[(InputSize*(InputSize-1)+111)*Channels])
}
