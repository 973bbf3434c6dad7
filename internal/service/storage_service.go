package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
)

// Sentinel errors for answer file storage.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrInvalidFileURL      = errors.New("file URL is not an answer file")
)

const answerFilesPrefix = "/uploads/answers/"

// Allowed answer file MIME types.
var allowedMIMETypes = map[string]string{
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"text/plain": ".txt",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// StorageService stores answer files on local disk under UploadDir/answers.
type StorageService struct {
	dir      string
	maxBytes int64
	log      zerolog.Logger
}

// NewStorageService creates a new StorageService.
func NewStorageService(cfg *config.Config, log zerolog.Logger) *StorageService {
	return &StorageService{
		dir:      filepath.Join(cfg.UploadDir, "answers"),
		maxBytes: cfg.MaxUploadBytes,
		log:      log.With().Str("component", "storage_service").Logger(),
	}
}

// Upload saves f with a UUID filename and returns its URL path.
func (s *StorageService) Upload(ctx context.Context, f *model.FileUpload) (string, error) {
	contentType := strings.TrimSpace(strings.Split(f.ContentType, ";")[0])
	ext, ok := allowedMIMETypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, contentType, strings.Join(allowedTypes(), ", "))
	}

	if f.Size > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, f.Size, s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + ext
	destPath := filepath.Join(s.dir, filename)

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	// Size may be unknown for streamed bodies; read one byte past the limit.
	n, err := io.Copy(dst, io.LimitReader(f.Body, s.maxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, s.maxBytes)
	}
	if err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("write file: %w", err)
	}

	s.log.Debug().Str("file", filename).Int64("bytes", n).Msg("Answer file stored")
	return answerFilesPrefix + filename, nil
}

// Delete removes the file behind url. Deleting a missing file succeeds.
func (s *StorageService) Delete(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, answerFilesPrefix)
	if !ok || name == "" || strings.HasPrefix(name, ".") || name != filepath.Base(name) {
		return fmt.Errorf("%w: %s", ErrInvalidFileURL, url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
