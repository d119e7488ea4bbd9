package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FilesRoute is where the HTTP layer serves locally stored objects.
const FilesRoute = "/api/files/"

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrURLExpired   = errors.New("signed url expired")
)

// Local keeps objects under a base directory. Signed URLs carry an expiry and an
// HMAC-SHA256 over "path|expires" and are checked by Verify.
type Local struct {
	baseDir string
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewLocal creates the base directory if needed. An empty key is replaced by a random one,
// which invalidates outstanding URLs on restart.
func NewLocal(baseDir string, key []byte, publicBaseURL string) (*Local, error) {
	if baseDir == "" {
		return nil, errors.New("local object store needs a base dir")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &Local{
		baseDir: baseDir,
		key:     key,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

func (l *Local) Put(_ context.Context, objectPath string, body io.Reader, _ int64, _ string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	full := l.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	dst, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(dst, body); err != nil {
		dst.Close()
		os.Remove(full)
		return fmt.Errorf("write object: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(full)
		return fmt.Errorf("close object: %w", err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, objectPaths ...string) error {
	var errs []error
	for _, objectPath := range objectPaths {
		p, err := cleanPath(objectPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", objectPath, err))
			continue
		}
		if err := os.Remove(l.fullPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Local) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	expires := strconv.FormatInt(l.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", l.sign(p, expires))
	return l.baseURL + FilesRoute + p + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (l *Local) Verify(objectPath, expires, sig string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	want := l.sign(p, expires)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 0 {
		return ErrBadSignature
	}
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if !l.now().Before(time.Unix(ts, 0)) {
		return ErrURLExpired
	}
	return nil
}

// Open returns the object for reading; a missing object yields ErrNotFound.
func (l *Local) Open(objectPath string) (*os.File, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(l.fullPath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (l *Local) fullPath(p string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(p))
}

func (l *Local) sign(p, expires string) string {
	h := hmac.New(sha256.New, l.key)
	h.Write([]byte(p))
	h.Write([]byte{'|'})
	h.Write([]byte(expires))
	return hex.EncodeToString(h.Sum(nil))
}
