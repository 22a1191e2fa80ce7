package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const (
	keyPrefix  = "attachments/"
	thumbWidth = 320
)

// Attachment is what a client puts in a message's attachment field (Path)
// plus the URLs to show it right away.
type Attachment struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Service struct {
	store      ObjectStore
	presignTTL time.Duration
	maxBytes   int64
	log        *zap.SugaredLogger
}

func NewService(store ObjectStore, presignTTL time.Duration, maxBytes int64, log *zap.SugaredLogger) *Service {
	if presignTTL <= 0 {
		presignTTL = 10 * time.Minute
	}
	return &Service{store: store, presignTTL: presignTTL, maxBytes: maxBytes, log: log}
}

// Upload stores data under the uploader's prefix. Images also get a JPEG
// thumbnail; a thumbnail failure does not fail the upload.
func (s *Service) Upload(ctx context.Context, username, filename, contentType string, data []byte) (*Attachment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file is larger than %d bytes", domain.ErrValidation, s.maxBytes)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	key := keyPrefix + strings.ToLower(username) + "/" + uuid.NewString() + "_" + cleanName(filename)
	public, err := s.store.Upload(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: upload attachment: %w", domain.ErrStore, err)
	}
	att := &Attachment{Path: key, URL: public, ContentType: contentType, Size: int64(len(data))}
	if att.URL == "" {
		if att.URL, err = s.URL(ctx, key); err != nil {
			return nil, err
		}
	}

	if strings.HasPrefix(contentType, "image/") {
		att.Thumbnail = s.thumbnail(ctx, key, data)
	}
	return att, nil
}

// URL returns a short-lived download URL for an attachment path.
func (s *Service) URL(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, keyPrefix) || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: not an attachment path", domain.ErrValidation)
	}
	u, err := s.store.PresignURL(ctx, key, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("%w: presign attachment: %w", domain.ErrStore, err)
	}
	return u, nil
}

func (s *Service) thumbnail(ctx context.Context, key string, data []byte) string {
	thumb, err := generateThumbnail(data)
	if err != nil {
		s.log.Debugw("thumbnail skipped", "path", key, "error", err)
		return ""
	}
	thumbKey := key + "_thumb.jpg"
	public, err := s.store.Upload(ctx, thumbKey, "image/jpeg", thumb)
	if err != nil {
		s.log.Warnw("thumbnail upload failed", "path", thumbKey, "error", err)
		return ""
	}
	if public != "" {
		return public
	}
	u, err := s.URL(ctx, thumbKey)
	if err != nil {
		s.log.Warnw("thumbnail presign failed", "path", thumbKey, "error", err)
		return ""
	}
	return u
}

func generateThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
