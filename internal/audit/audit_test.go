package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/violationsqa/violationsqa/internal/config"
	"github.com/violationsqa/violationsqa/internal/storage"
)

func sampleRecord(question string) Record {
	return Record{
		Time:            time.Date(2026, 2, 20, 3, 5, 0, 0, time.UTC),
		TraceID:         "trace-1",
		SessionID:       "5f0c7c1e-54a3-4a4f-9f55-6a3e4ef3b1c2",
		Question:        question,
		Outcome:         "explanation",
		Route:           "proceed",
		SQL:             "SELECT COUNT(*) FROM violations",
		Result:          "count\n24",
		Explanation:     "There are 24 violations.",
		Answer:          "There are 24 violations.",
		RetrievedIDs:    []string{"status", "fines"},
		ExecutionTimeMS: 1520,
		StagesMS:        map[string]int64{"execute": 4, "generate_sql": 900},
	}
}

func TestStreamWriterWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	writer := NewStreamWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, writer.Write(sampleRecord("How many violations?")))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var decoded Record
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.Equal(t, "How many violations?", decoded.Question)
		assert.Equal(t, []string{"status", "fines"}, decoded.RetrievedIDs)
	}
	assert.NoError(t, writer.Rotate())
	assert.NoError(t, writer.Close())
}

func TestRotatingWriterProducesListableBackups(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "results.jsonl")
	writer := NewWriter(config.AuditConfig{Path: active, MaxSizeMB: 10})
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.Write(sampleRecord("first")))
	require.NoError(t, writer.Rotate())
	require.NoError(t, writer.Write(sampleRecord("second")))

	backups, err := ListBackups(active)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.False(t, backups[0].Compressed)
	assert.True(t, strings.HasPrefix(backups[0].Name, "results-"))

	records, err := ReadRecords(backups[0].Path, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].Question)
}

func TestListBackupsOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "results.jsonl")
	for _, name := range []string{
		"results.jsonl",
		"results-2026-02-20T03-05-00.000.jsonl",
		"results-2026-02-19T23-00-00.000.jsonl.gz",
		"results-not-a-time.jsonl",
		"other-2026-02-19T23-00-00.000.jsonl",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("\n"), 0o644))
	}

	backups, err := ListBackups(active)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "results-2026-02-19T23-00-00.000", backups[0].Name)
	assert.True(t, backups[0].Compressed)
	assert.Equal(t, "results-2026-02-20T03-05-00.000", backups[1].Name)
	assert.Equal(t, time.Date(2026, 2, 20, 3, 5, 0, 0, time.UTC), backups[1].RotatedAt)

	missing, err := ListBackups(filepath.Join(dir, "nope", "results.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestReadRecordsRejectsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results-2026-02-20T03-05-00.000.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"question\":\"ok\"}\n\nnot json\n"), 0o644))

	_, err := ReadRecords(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode audit line 3")
}

func TestEncodeParquetFlattensRecords(t *testing.T) {
	data, err := EncodeParquet([]Record{sampleRecord("q1"), sampleRecord("q2")})
	require.NoError(t, err)

	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetRecord, 2)
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v", err)
	}
	require.Equal(t, 2, n)
	assert.Equal(t, "q1", rows[0].Question)
	assert.Equal(t, "status,fines", rows[0].RetrievedIDs)
	assert.Equal(t, `{"execute":4,"generate_sql":900}`, rows[0].StagesJSON)
	assert.Equal(t, time.Date(2026, 2, 20, 3, 5, 0, 0, time.UTC).UnixMilli(), rows[1].TimeUnixMs)

	_, err = EncodeParquet(nil)
	assert.Error(t, err)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error

	// truncate drops bytes on Put to simulate a short upload.
	truncate int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if m.truncate > 0 && len(data) > m.truncate {
		data = data[:len(data)-m.truncate]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.meta[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func writeBackup(t *testing.T, path string, compressed bool, records ...Record) {
	t.Helper()
	var buf bytes.Buffer
	writer := NewStreamWriter(&buf)
	for _, record := range records {
		require.NoError(t, writer.Write(record))
	}
	data := buf.Bytes()
	if compressed {
		var gz bytes.Buffer
		zw := gzip.NewWriter(&gz)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		data = gz.Bytes()
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestArchiverUploadsAndRemovesBackups(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "results.jsonl")
	writeBackup(t, active, false, sampleRecord("active"))
	writeBackup(t, filepath.Join(dir, "results-2026-02-20T03-05-00.000.jsonl"), false, sampleRecord("a"), sampleRecord("b"))
	writeBackup(t, filepath.Join(dir, "results-2026-02-19T23-00-00.000.jsonl.gz"), true, sampleRecord("c"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results-2026-02-18T00-00-00.000.jsonl"), nil, 0o644))

	store := newMemoryStore()
	archiver := &Archiver{AuditPath: active, Service: "vqa-api", ObjectStore: store}

	summary, err := archiver.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ArchiveSummary{FilesFound: 3, FilesArchived: 2, FilesEmpty: 1, RecordsArchived: 3}, summary)

	require.Contains(t, store.objects, "vqa-api/audit/date=2026-02-20/results-2026-02-20T03-05-00.000.parquet")
	require.Contains(t, store.objects, "vqa-api/audit/date=2026-02-19/results-2026-02-19T23-00-00.000.parquet")
	assert.Equal(t, "2", store.meta["vqa-api/audit/date=2026-02-20/results-2026-02-20T03-05-00.000.parquet"]["records"])

	remaining, err := ListBackups(active)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	_, err = os.Stat(active)
	assert.NoError(t, err, "active file must be kept")
}

func TestArchiverKeepsBackupWhenUploadFails(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "results.jsonl")
	backup := filepath.Join(dir, "results-2026-02-20T03-05-00.000.jsonl")
	writeBackup(t, backup, false, sampleRecord("a"))

	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	archiver := &Archiver{AuditPath: active, Service: "vqa-api", ObjectStore: store}

	summary, err := archiver.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Equal(t, 1, summary.Failures)
	_, statErr := os.Stat(backup)
	assert.NoError(t, statErr, "backup must stay on disk after a failed upload")
}

func TestArchiverRemovesShortUploads(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "results.jsonl")
	backup := filepath.Join(dir, "results-2026-02-20T03-05-00.000.jsonl")
	writeBackup(t, backup, false, sampleRecord("a"))

	store := newMemoryStore()
	store.truncate = 10
	archiver := &Archiver{AuditPath: active, Service: "vqa-api", ObjectStore: store}

	summary, err := archiver.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify upload")
	assert.Equal(t, 1, summary.Failures)
	assert.Empty(t, store.objects, "short object must be removed")
	_, statErr := os.Stat(backup)
	assert.NoError(t, statErr, "backup must stay on disk after a short upload")
}

func TestArchiverRunStopsOnCancel(t *testing.T) {
	archiver := &Archiver{AuditPath: filepath.Join(t.TempDir(), "results.jsonl"), Service: "vqa-api", ObjectStore: newMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.Error(t, archiver.Run(context.Background(), 0))
}
