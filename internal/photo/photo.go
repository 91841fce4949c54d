// Package photo stores clergy portraits in S3-compatible object storage.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxUploadBytes = 10 << 20
	// MaxPixels bounds the decoded size; headers are checked before decoding.
	MaxPixels   = 50_000_000
	jpegQuality = 88
)

var (
	ErrUnsupportedImage = errors.New("unsupported image: expected JPEG, PNG, or GIF")
	ErrTooLarge         = errors.New("image exceeds upload limit")
	ErrCorruptImage     = errors.New("image could not be decoded")
	ErrEmptyCrop        = errors.New("crop rectangle does not overlap the image")
)

// Rect is a crop rectangle in source pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Blobs is the object storage the service writes to.
type Blobs interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	blobs  Blobs
	ttl    time.Duration
	logger *zap.Logger
	newKey func(clergyID string) string
}

func NewService(blobs Blobs, urlTTL time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Service{
		blobs:  blobs,
		ttl:    urlTTL,
		logger: logger,
		newKey: func(clergyID string) string {
			return fmt.Sprintf("clergy/%s/%s.jpg", clergyID, uuid.NewString())
		},
	}
}

// Upload decodes body, applies crop when given, re-encodes as JPEG and stores
// it. It returns the new object key.
func (s *Service) Upload(ctx context.Context, clergyID string, body io.Reader, crop *Rect) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > MaxUploadBytes {
		return "", ErrTooLarge
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", decodeError(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", ErrCorruptImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return "", fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", decodeError(err)
	}
	if crop != nil {
		img, err = cropImage(img, *crop)
		if err != nil {
			return "", err
		}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	key := s.newKey(clergyID)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(out.Bytes()), int64(out.Len()), "image/jpeg"); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	bounds := img.Bounds()
	s.logger.Info("photo stored",
		zap.String("clergy_id", clergyID),
		zap.String("key", key),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
	)
	return key, nil
}

func decodeError(err error) error {
	if errors.Is(err, image.ErrFormat) {
		return ErrUnsupportedImage
	}
	return fmt.Errorf("%w: %v", ErrCorruptImage, err)
}

// URL returns a time-limited download link for key.
func (s *Service) URL(ctx context.Context, key string) (string, time.Time, error) {
	if strings.TrimSpace(key) == "" {
		return "", time.Time{}, errors.New("photo key is empty")
	}
	link, err := s.blobs.PresignGet(ctx, key, s.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign photo: %w", err)
	}
	return link, time.Now().Add(s.ttl), nil
}

// Remove deletes a previous photo. Missing objects are not an error.
func (s *Service) Remove(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("delete old photo", zap.String("key", key), zap.Error(err))
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropImage(img image.Image, crop Rect) (image.Image, error) {
	bounds := img.Bounds()
	want := image.Rect(
		bounds.Min.X+crop.X,
		bounds.Min.Y+crop.Y,
		bounds.Min.X+crop.X+crop.Width,
		bounds.Min.Y+crop.Y+crop.Height,
	).Intersect(bounds)
	if want.Empty() {
		return nil, ErrEmptyCrop
	}
	if sub, ok := img.(subImager); ok {
		return sub.SubImage(want), nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, want.Dx(), want.Dy()))
	for y := want.Min.Y; y < want.Max.Y; y++ {
		for x := want.Min.X; x < want.Max.X; x++ {
			rgba.Set(x-want.Min.X, y-want.Min.Y, img.At(x, y))
		}
	}
	return rgba, nil
}
