package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/config"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "thumbs")
	s, err := NewStore(config.StorageConfig{ThumbnailDir: dir, ThumbnailURLPrefix: "/uploads/thumbnails"}, nil)
	require.NoError(t, err)
	fixed := uuid.MustParse("0b7e3c1a-5d2f-4e8a-9c61-2f4d8a9b7e10")
	s.newID = func() uuid.UUID { return fixed }
	return s, dir
}

func TestNewStoreRequiresDirectory(t *testing.T) {
	t.Parallel()
	_, err := NewStore(config.StorageConfig{}, nil)
	assert.Error(t, err)
}

func TestSaveFitsLargeImage(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)
	userID := uuid.MustParse("6f1c2d9e-3b1a-4c55-9e8e-0a7d7f3f2b11")

	got, err := s.SaveThumbnail(context.Background(), userID, domain.Image{Data: pngBytes(t, 1600, 400), MIMEType: "image/png"})
	require.NoError(t, err)

	name := userID.String() + "/0b7e3c1a-5d2f-4e8a-9c61-2f4d8a9b7e10.jpg"
	assert.Equal(t, "/uploads/thumbnails/"+name, got)

	written, err := imaging.Open(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	assert.Equal(t, 800, written.Bounds().Dx())
	assert.Equal(t, 200, written.Bounds().Dy())
}

func TestSaveKeepsSmallImageSizeAndUsesAnonOwner(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)

	got, err := s.SaveThumbnail(context.Background(), uuid.Nil, domain.Image{Data: pngBytes(t, 40, 30)})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/thumbnails/anon/0b7e3c1a-5d2f-4e8a-9c61-2f4d8a9b7e10.jpg", got)

	written, err := imaging.Open(filepath.Join(dir, "anon", "0b7e3c1a-5d2f-4e8a-9c61-2f4d8a9b7e10.jpg"))
	require.NoError(t, err)
	assert.Equal(t, 40, written.Bounds().Dx())
	assert.Equal(t, 30, written.Bounds().Dy())
}

func TestSaveRejectsBadInput(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)

	_, err := s.SaveThumbnail(context.Background(), uuid.Nil, domain.Image{})
	assert.ErrorIs(t, err, domain.ErrImageRequired)

	_, err = s.SaveThumbnail(context.Background(), uuid.Nil, domain.Image{Data: []byte("not an image")})
	assert.Error(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "no directory should be created for rejected input")
}

func TestSaveSameUserTwiceKeepsBothFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "thumbs")
	s, err := NewStore(config.StorageConfig{ThumbnailDir: dir, ThumbnailURLPrefix: "/t"}, nil)
	require.NoError(t, err)
	userID := uuid.New()
	img := domain.Image{Data: pngBytes(t, 20, 20)}

	first, err := s.SaveThumbnail(context.Background(), userID, img)
	require.NoError(t, err)
	second, err := s.SaveThumbnail(context.Background(), userID, img)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	entries, err := os.ReadDir(filepath.Join(dir, userID.String()))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
