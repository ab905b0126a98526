// Package media keeps images produced by the agent's tools and builds the public URLs
// they are served at.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agentchat/internal/apperr"
	"agentchat/internal/storage"
)

const maxImageBytes = 20 << 20

var ErrEmptyImage = errors.New("image has no data")

type imageStore interface {
	InsertImage(ctx context.Context, img storage.GeneratedImage) error
	GetImage(ctx context.Context, imageID string) (storage.GeneratedImage, error)
}

type Library struct {
	store   imageStore
	baseURL string
	logger  zerolog.Logger
}

func NewLibrary(store imageStore, publicBaseURL string, logger zerolog.Logger) *Library {
	return &Library{
		store:   store,
		baseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:  logger.With().Str("component", "media").Logger(),
	}
}

// SaveImage stores data under a fresh uuid. chatSessionID is empty while a session's
// first turn is still running.
func (l *Library) SaveImage(ctx context.Context, chatSessionID, name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image %q is %d bytes, limit %d", name, len(data), maxImageBytes)
	}
	img := storage.GeneratedImage{
		ImageID:  uuid.NewString(),
		Name:     name,
		MIMEType: mimeType,
		Data:     data,
	}
	if chatSessionID != "" {
		img.ChatSessionID = &chatSessionID
	}
	if err := l.store.InsertImage(ctx, img); err != nil {
		return "", fmt.Errorf("save image %q: %w", name, err)
	}
	l.logger.Debug().Str("image_id", img.ImageID).Str("name", name).Int("bytes", len(data)).Msg("image stored")
	return l.URL(img.ImageID), nil
}

func (l *Library) URL(imageID string) string {
	return l.baseURL + "/images/" + imageID
}

func (l *Library) Get(ctx context.Context, imageID string) (storage.GeneratedImage, error) {
	if _, err := uuid.Parse(imageID); err != nil {
		return storage.GeneratedImage{}, apperr.NotFound("Image not found")
	}
	img, err := l.store.GetImage(ctx, imageID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.GeneratedImage{}, apperr.NotFound("Image not found")
	}
	if err != nil {
		return storage.GeneratedImage{}, apperr.Wrap(apperr.ErrInternal, "get image", err)
	}
	return img, nil
}
