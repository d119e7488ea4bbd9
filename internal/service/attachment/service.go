// Package attachment stores chat image uploads, hands out short-lived read URLs and
// retires old uploads.
package attachment

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/objectstore"
)

const (
	MaxFileBytes = 8 << 20 // 8 MiB
	SignedURLTTL = 10 * time.Minute
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds 8 MiB")
	ErrEmptyFile       = errors.New("file is empty")
	ErrNotFound        = errors.New("attachment not found")
	ErrForbidden       = errors.New("attachment belongs to another user")
)

// allowedTypes maps each accepted MIME type to the extensions it may be stored under;
// the first one is used when the original name has none of them.
var allowedTypes = map[string][]string{
	"image/jpeg": {"jpg", "jpeg"},
	"image/png":  {"png"},
	"image/heic": {"heic", "heif"},
	"image/heif": {"heif", "heic"},
}

// Upload is a file received from a client.
type Upload struct {
	FileName     string
	DeclaredType string
	Size         int64
	Body         io.Reader
}

// Ref is what the uploader gets back.
type Ref struct {
	ID       string `json:"attachmentId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

type Service struct {
	db     *sqlx.DB
	store  objectstore.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *sqlx.DB, store objectstore.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{db: db, store: store, logger: opts.Logger, now: opts.Now}
}

// Store validates the upload, writes its bytes under {ownerID}/{id}.{ext} and records the
// metadata row. Nothing is written to storage unless validation passes. If the row cannot
// be inserted the stored bytes are removed again; a failure of that cleanup is only logged.
func (s *Service) Store(ctx context.Context, ownerID int64, up Upload) (*Ref, error) {
	ref, err := s.storeUpload(ctx, ownerID, up)
	metrics.AttachmentUploads.WithLabelValues(uploadOutcome(err)).Inc()
	return ref, err
}

func (s *Service) storeUpload(ctx context.Context, ownerID int64, up Upload) (*Ref, error) {
	if up.Size > MaxFileBytes {
		return nil, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(up.Body, MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxFileBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	mimeType, ext, err := classify(data, up.DeclaredType, up.FileName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storagePath := fmt.Sprintf("%d/%s.%s", ownerID, id, ext)
	fileName := displayName(up.FileName, id, ext)

	if err := s.store.Put(ctx, storagePath, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return nil, fmt.Errorf("store attachment bytes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO chat_attachments (id, uploader_user_id, storage_path, file_name, mime_type, file_size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		id, ownerID, storagePath, fileName, mimeType, len(data), s.stamp(),
	)
	if err != nil {
		s.release(storagePath)
		return nil, fmt.Errorf("record attachment: %w", err)
	}
	return &Ref{ID: id, FileName: fileName, MimeType: mimeType}, nil
}

// release undoes a Put whose metadata row was never written.
func (s *Service) release(storagePath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, storagePath); err != nil {
		s.logger.Error("orphaned attachment object",
			zap.String("storage_path", storagePath),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("removed attachment bytes after metadata insert failed", zap.String("storage_path", storagePath))
}

// classify sniffs the content and checks it against the allow-list. A declared type, when
// given, must also be on the list.
func classify(data []byte, declared, fileName string) (string, string, error) {
	declared = strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	if declared != "" && declared != "application/octet-stream" {
		if _, ok := allowedTypes[declared]; !ok {
			return "", "", ErrUnsupportedType
		}
	}
	detected := mimetype.Detect(data).String()
	exts, ok := allowedTypes[detected]
	if !ok {
		return "", "", ErrUnsupportedType
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	for _, candidate := range exts {
		if ext == candidate {
			return detected, ext, nil
		}
	}
	return detected, exts[0], nil
}

func displayName(original, id, ext string) string {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(original, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return id + "." + ext
	}
	return name
}

// SignedURL returns a fresh read URL valid for SignedURLTTL. Only the uploader may ask.
func (s *Service) SignedURL(ctx context.Context, attachmentID string, requesterID int64) (string, error) {
	var att models.ChatAttachment
	err := s.db.GetContext(ctx, &att, s.db.Rebind(
		`SELECT id, uploader_user_id, storage_path, file_name, mime_type, file_size_bytes, created_at, deleted_at
		FROM chat_attachments WHERE id = ? AND deleted_at IS NULL`), attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup attachment: %w", err)
	}
	if att.UploaderUserID != requesterID {
		return "", ErrForbidden
	}
	url, err := s.store.SignedURL(ctx, att.StoragePath, SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign attachment url: %w", err)
	}
	return url, nil
}

func uploadOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrEmptyFile):
		return "empty"
	default:
		return "error"
	}
}
