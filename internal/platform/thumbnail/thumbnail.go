package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/config"
	"github.com/phrazzld/moments-api/internal/domain"
)

// Thumbnail bounds and encoding quality.
const (
	MaxWidth    = 800
	MaxHeight   = 800
	JPEGQuality = 70
)

// Store saves thumbnails under a directory on the local filesystem.
type Store struct {
	dir       string
	urlPrefix string
	logger    *slog.Logger
	newID     func() uuid.UUID
}

// NewStore creates a Store from the storage configuration.
func NewStore(cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if cfg.ThumbnailDir == "" {
		return nil, errors.New("thumbnail directory cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       cfg.ThumbnailDir,
		urlPrefix: cfg.ThumbnailURLPrefix,
		logger:    logger.With("component", "thumbnail_store"),
		newID:     uuid.New,
	}, nil
}

// SaveThumbnail decodes image, fits it into MaxWidth x MaxHeight and writes it
// as <owner>/<random uuid>.jpg, so concurrent saves never collide. It returns
// the public path of the written file.
func (s *Store) SaveThumbnail(ctx context.Context, userID uuid.UUID, image domain.Image) (string, error) {
	if len(image.Data) == 0 {
		return "", domain.ErrImageRequired
	}

	src, err := imaging.Decode(bytes.NewReader(image.Data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	thumb := imaging.Fit(src, MaxWidth, MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	owner := "anon"
	if userID != uuid.Nil {
		owner = userID.String()
	}
	ownerDir := filepath.Join(s.dir, owner)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	name := s.newID().String() + ".jpg"
	if err := os.WriteFile(filepath.Join(ownerDir, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write thumbnail: %w", err)
	}

	publicPath := path.Join("/", s.urlPrefix, owner, name)
	s.logger.DebugContext(ctx, "thumbnail saved",
		"path", publicPath,
		"width", thumb.Bounds().Dx(),
		"height", thumb.Bounds().Dy(),
		"bytes", buf.Len())
	return publicPath, nil
}
