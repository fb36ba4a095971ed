package dataset

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func encodeImage(w io.Writer, ext string, img image.Image) error {
	if strings.EqualFold(ext, ".png") {
		return png.Encode(w, img)
	}
	return bmp.Encode(w, img)
}

func TestPreprocessUniform(t *testing.T) {
	pixels := Preprocess(grayImage(20, 10, 255), 8, 6)
	require.Len(t, pixels, 48)
	for _, v := range pixels {
		assert.InDelta(t, 1.0, v, 0.005)
	}
}

func TestPreprocessRange(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	for _, v := range Preprocess(img, 8, 8) {
		assert.True(t, v >= 0 && v <= 1, "pixel %f out of range", v)
	}
}

func TestLoadImagesKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	levels := []uint8{0, 51, 102, 153, 204, 255}
	var records []Record
	for i, level := range levels {
		path := filepath.Join(dir, "1", string(rune('a'+i))+".bmp")
		mustImage(t, path, level)
		records = append(records, Record{Path: path, Label: i})
	}

	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, grayImage(4, 4, 255)))
	records = append(records, Record{Path: "archive.tar:x.bmp", Label: 9, Data: buf.Bytes()})

	images, err := LoadImages(context.Background(), records, 2, 2, 3)
	require.NoError(t, err)
	require.Len(t, images, len(records))
	for i, level := range levels {
		assert.Equal(t, i, images[i].Label)
		assert.InDelta(t, float64(level)/255, images[i].Pixels[0], 0.005)
	}
	assert.Equal(t, 9, images[len(levels)].Label)
	assert.InDelta(t, 1.0, images[len(levels)].Pixels[3], 0.005)
}

func TestLoadImagesReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1", "bad.bmp")
	mustWrite(t, path)

	_, err := LoadImages(context.Background(), []Record{{Path: path}}, 2, 2, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.bmp")
}

func TestSelect(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, Select([]string{"a", "b", "c"}, []int{2, 0}))
}
