package attachment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"studyhub/internal/models"
	"studyhub/internal/storage"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 32)...)
	heicBytes = append([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic"), make([]byte, 32)...)
	gifBytes  = append([]byte("GIF89a"), make([]byte, 32)...)
	pdfBytes  = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deletes   [][]string
	signed    []string
	putErr    error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, p string, body io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	data, _ := io.ReadAll(body)
	f.objects[p] = data
	return nil
}

func (f *fakeStore) Delete(_ context.Context, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, paths)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}

func (f *fakeStore) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, p)
	return "https://files.example.com/" + p + "?ttl=" + ttl.String(), nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *sqlx.DB, *time.Time) {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := newFakeStore()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := NewService(db, store, Options{Now: func() time.Time { return now }})
	return svc, store, db, &now
}

func upload(name, declared string, data []byte) Upload {
	return Upload{FileName: name, DeclaredType: declared, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func TestStoreAcceptsAllowedImages(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name, declared string
		data           []byte
		mime, ext      string
	}{
		{"photo.png", "image/png", pngBytes, "image/png", "png"},
		{"IMG_0001.JPEG", "image/jpeg", jpegBytes, "image/jpeg", "jpeg"},
		{"scan", "", jpegBytes, "image/jpeg", "jpg"},
		{"IMG_0002.HEIC", "image/heic", heicBytes, "image/heic", "heic"},
	}
	for _, tc := range cases {
		ref, err := svc.Store(ctx, 42, upload(tc.name, tc.declared, tc.data))
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.mime, ref.MimeType)

		var att models.ChatAttachment
		require.NoError(t, db.Get(&att, `SELECT * FROM chat_attachments WHERE id = ?`, ref.ID))
		require.Equal(t, int64(42), att.UploaderUserID)
		require.Equal(t, "42/"+ref.ID+"."+tc.ext, att.StoragePath)
		require.Equal(t, int64(len(tc.data)), att.FileSizeBytes)
		require.Nil(t, att.DeletedAt)
		require.Equal(t, tc.data, store.objects[att.StoragePath])
	}
}

func TestStoreRejectsWithoutWriting(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	ctx := context.Background()

	big := append(append([]byte{}, pngBytes...), make([]byte, MaxFileBytes)...)
	cases := []struct {
		up   Upload
		want error
	}{
		{upload("anim.gif", "image/gif", gifBytes), ErrUnsupportedType},
		{upload("doc.pdf", "application/pdf", pdfBytes), ErrUnsupportedType},
		{upload("fake.png", "image/png", pdfBytes), ErrUnsupportedType},
		{upload("renamed.png", "application/octet-stream", gifBytes), ErrUnsupportedType},
		{upload("huge.png", "image/png", big), ErrTooLarge},
		{Upload{FileName: "liar.png", DeclaredType: "image/png", Size: 10, Body: bytes.NewReader(big)}, ErrTooLarge},
		{upload("empty.png", "image/png", nil), ErrEmptyFile},
	}
	for _, tc := range cases {
		_, err := svc.Store(ctx, 1, tc.up)
		require.ErrorIs(t, err, tc.want, tc.up.FileName)
	}
	require.Empty(t, store.objects)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM chat_attachments`))
	require.Zero(t, count)
}

func TestStoreExactlyAtLimit(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	data := append(append([]byte{}, pngBytes...), make([]byte, MaxFileBytes-len(pngBytes))...)
	_, err := svc.Store(context.Background(), 1, upload("max.png", "image/png", data))
	require.NoError(t, err)
}

func TestStoreCompensatesWhenInsertFails(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	_, err := db.Exec(`DROP TABLE chat_attachments`)
	require.NoError(t, err)

	_, err = svc.Store(context.Background(), 9, upload("photo.png", "image/png", pngBytes))
	require.Error(t, err)
	require.Len(t, store.deletes, 1)
	require.True(t, strings.HasPrefix(store.deletes[0][0], "9/"))
	require.Empty(t, store.objects)
}

func TestStorePutFailureWritesNoRow(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	store.putErr = errors.New("bucket unavailable")

	_, err := svc.Store(context.Background(), 9, upload("photo.png", "image/png", pngBytes))
	require.ErrorContains(t, err, "bucket unavailable")

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM chat_attachments`))
	require.Zero(t, count)
}

func TestSignedURLOwnership(t *testing.T) {
	svc, store, db, _ := newTestService(t)
	ctx := context.Background()
	ref, err := svc.Store(ctx, 1, upload("photo.png", "image/png", pngBytes))
	require.NoError(t, err)

	url, err := svc.SignedURL(ctx, ref.ID, 1)
	require.NoError(t, err)
	require.Contains(t, url, "ttl=10m0s")

	_, err = svc.SignedURL(ctx, ref.ID, 2)
	require.ErrorIs(t, err, ErrForbidden)
	require.Len(t, store.signed, 1)

	_, err = svc.SignedURL(ctx, "00000000-0000-0000-0000-000000000000", 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.Exec(`UPDATE chat_attachments SET deleted_at = ? WHERE id = ?`, time.Now().UTC(), ref.ID)
	require.NoError(t, err)
	_, err = svc.SignedURL(ctx, ref.ID, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func insertAttachment(t *testing.T, db *sqlx.DB, id string, owner int64, createdAt time.Time) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO chat_attachments (id, uploader_user_id, storage_path, file_name, mime_type, file_size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, owner, "1/"+id+".png", id+".png", "image/png", 10, createdAt)
	require.NoError(t, err)
}

func deletedAt(t *testing.T, db *sqlx.DB, id string) *time.Time {
	t.Helper()
	var ts *time.Time
	require.NoError(t, db.Get(&ts, `SELECT deleted_at FROM chat_attachments WHERE id = ?`, id))
	return ts
}

func TestSweepDryRunMutatesNothing(t *testing.T) {
	svc, store, db, now := newTestService(t)
	insertAttachment(t, db, "old", 1, now.Add(-10*24*time.Hour))
	insertAttachment(t, db, "fresh", 1, now.Add(-2*24*time.Hour))

	report, err := svc.Sweep(context.Background(), SweepOptions{OlderThan: 7 * 24 * time.Hour, DryRun: true})
	require.NoError(t, err)
	require.True(t, report.DryRun)
	require.Len(t, report.Candidates, 1)
	require.Equal(t, "old", report.Candidates[0].ID)
	require.Zero(t, report.Deleted)

	require.Empty(t, store.deletes)
	require.Nil(t, deletedAt(t, db, "old"))
}

func TestSweepDeletesInBatches(t *testing.T) {
	svc, store, db, now := newTestService(t)
	for _, id := range []string{"a", "b", "c"} {
		insertAttachment(t, db, id, 1, now.Add(-8*24*time.Hour))
	}
	insertAttachment(t, db, "fresh", 1, now.Add(-time.Hour))

	report, err := svc.Sweep(context.Background(), SweepOptions{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, report.Deleted)
	require.Zero(t, report.Failed)
	require.Len(t, store.deletes, 2)
	require.Len(t, store.deletes[0], 2)
	require.Len(t, store.deletes[1], 1)

	for _, id := range []string{"a", "b", "c"} {
		require.NotNil(t, deletedAt(t, db, id), id)
	}
	require.Nil(t, deletedAt(t, db, "fresh"))

	again, err := svc.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Empty(t, again.Candidates)
}

func TestSweepFailedBatchLeavesRowsUnmarked(t *testing.T) {
	svc, store, db, now := newTestService(t)
	insertAttachment(t, db, "a", 1, now.Add(-8*24*time.Hour))
	store.deleteErr = errors.New("access denied")

	report, err := svc.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Zero(t, report.Deleted)
	require.Len(t, report.Errors, 1)
	require.Nil(t, deletedAt(t, db, "a"))

	store.deleteErr = nil
	report, err = svc.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)
}

func TestSweepCutoffIgnoresZoneAndFraction(t *testing.T) {
	svc, _, db, now := newTestService(t)
	ctx := context.Background()

	*now = time.Date(2025, 3, 10, 12, 0, 0, 250_000_000, time.UTC)
	ref, err := svc.Store(ctx, 1, upload("photo.png", "image/png", pngBytes))
	require.NoError(t, err)

	// the clock moves on into a zone behind UTC, with a different sub-second part
	eastern := time.FixedZone("EST", -5*60*60)
	*now = time.Date(2025, 3, 17, 12, 0, 1, 900_000_000, time.UTC).In(eastern)
	insertAttachment(t, db, "older", 1, dbTime(now.Add(-7*24*time.Hour-time.Hour)))
	insertAttachment(t, db, "younger", 1, dbTime(now.Add(-7*24*time.Hour+time.Hour)))

	report, err := svc.Sweep(ctx, SweepOptions{OlderThan: 7 * 24 * time.Hour, DryRun: true})
	require.NoError(t, err)
	ids := make([]string, 0, len(report.Candidates))
	for _, c := range report.Candidates {
		ids = append(ids, c.ID)
	}
	require.ElementsMatch(t, []string{ref.ID, "older"}, ids)
	require.Equal(t, time.UTC, report.Cutoff.Location())
}
