package upload

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/session"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/storage/mock"
	"github.com/filedepot/filedepot/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *mock.MockStore, *sql.DB, session.Store) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := testutil.SetupTestConfig(t)
	blobs := mock.NewMockStore()
	sessions := session.NewMemoryStore()

	return NewEngine(db, sessions, blobs, cfg), blobs, db, sessions
}

func initiateTest(t *testing.T, e *Engine, totalSize, chunkSize int64) *models.InitiateUploadResponse {
	t.Helper()

	resp, err := e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:  "a.bin",
		TotalSize: totalSize,
		ChunkSize: chunkSize,
		CreatedBy: "tester",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return resp
}

// writeAllChunks pushes every chunk through the proxied path.
func writeAllChunks(t *testing.T, e *Engine, resp *models.InitiateUploadResponse, totalSize int64) {
	t.Helper()

	for n := 1; n <= resp.TotalChunks; n++ {
		size := resp.ChunkSize
		if n == resp.TotalChunks {
			size = totalSize - resp.ChunkSize*int64(resp.TotalChunks-1)
		}
		data := bytes.Repeat([]byte{byte(n)}, int(size))
		if _, err := e.WriteChunk(context.Background(), resp.UploadID, n, bytes.NewReader(data), size); err != nil {
			t.Fatalf("WriteChunk %d: %v", n, err)
		}
	}
}

func TestInitiate_ChunkMath(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	resp := initiateTest(t, e, 10000, 5000)
	if resp.TotalChunks != 2 {
		t.Errorf("totalChunks = %d, want 2", resp.TotalChunks)
	}

	resp = initiateTest(t, e, 10001, 5000)
	if resp.TotalChunks != 3 {
		t.Errorf("totalChunks = %d, want 3", resp.TotalChunks)
	}
}

func TestInitiate_RejectsSingleChunk(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:  "small.bin",
		TotalSize: 100,
		ChunkSize: 5000,
	})
	if !IsCode(err, CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestInitiate_ChunkSizeBand(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:  "a.bin",
		TotalSize: 10000,
		ChunkSize: 2, // below MinChunkSize
	})
	if !IsCode(err, CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	_, err = e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:  "a.bin",
		TotalSize: 100 * 1024 * 1024,
		ChunkSize: 20 * 1024 * 1024, // above MaxChunkSize
	})
	if !IsCode(err, CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestInitiate_BadContentHash(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:    "a.bin",
		TotalSize:   10000,
		ChunkSize:   5000,
		ContentHash: "NOT-HEX",
	})
	if !IsCode(err, CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestInitiate_CreatesFileRecord(t *testing.T) {
	e, _, db, _ := newTestEngine(t)

	resp := initiateTest(t, e, 10000, 5000)

	record, err := database.GetFile(db, resp.FileID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record == nil {
		t.Fatal("file record not created")
	}
	if record.Status != models.StatusUploading {
		t.Errorf("status = %s, want UPLOADING", record.Status)
	}
}

func TestAuthorizeChunk_Bounds(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	for _, n := range []int{0, -1, 3} {
		if _, err := e.AuthorizeChunk(context.Background(), resp.UploadID, n); !IsCode(err, CodeValidation) {
			t.Errorf("chunk %d: err = %v, want VALIDATION_ERROR", n, err)
		}
	}

	handle, err := e.AuthorizeChunk(context.Background(), resp.UploadID, 1)
	if err != nil {
		t.Fatalf("AuthorizeChunk: %v", err)
	}
	if !strings.Contains(handle.Key, resp.UploadID) {
		t.Errorf("handle key %q does not reference upload", handle.Key)
	}
	if handle.URL != "" {
		t.Errorf("mock backend without presign should leave URL empty, got %q", handle.URL)
	}
}

func TestAuthorizeChunk_UnknownSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	if _, err := e.AuthorizeChunk(context.Background(), "no-such-upload", 1); !IsCode(err, CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestWriteChunk_TracksProgress(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	ack, err := e.WriteChunk(context.Background(), resp.UploadID, 1,
		bytes.NewReader(bytes.Repeat([]byte{1}, 5000)), 5000)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if ack.Received != 1 || ack.Complete {
		t.Errorf("ack = %+v, want received 1 and not complete", ack)
	}

	ack, err = e.WriteChunk(context.Background(), resp.UploadID, 2,
		bytes.NewReader(bytes.Repeat([]byte{2}, 5000)), 5000)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if ack.Received != 2 || !ack.Complete {
		t.Errorf("ack = %+v, want received 2 and complete", ack)
	}
}

func TestWriteChunk_IdempotentReupload(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	for i := 0; i < 3; i++ {
		ack, err := e.WriteChunk(context.Background(), resp.UploadID, 1,
			bytes.NewReader(bytes.Repeat([]byte{1}, 5000)), 5000)
		if err != nil {
			t.Fatalf("WriteChunk attempt %d: %v", i, err)
		}
		if ack.Received != 1 {
			t.Errorf("attempt %d: received = %d, want 1", i, ack.Received)
		}
	}
}

func TestAcknowledgeChunk_RequiresDurableWrite(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	// Nothing was written to the blob store, so the ack must fail.
	if _, err := e.AcknowledgeChunk(context.Background(), resp.UploadID, 1, 5000, ""); !IsCode(err, CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestAcknowledgeChunk_AfterDirectWrite(t *testing.T) {
	e, blobs, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	// Simulate the client writing through a presigned URL.
	key := storage.ChunkKey(resp.UploadID, 1)
	if _, err := blobs.Put(context.Background(), key, bytes.NewReader(bytes.Repeat([]byte{1}, 5000)), 5000, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ack, err := e.AcknowledgeChunk(context.Background(), resp.UploadID, 1, 5000, "etag-1")
	if err != nil {
		t.Fatalf("AcknowledgeChunk: %v", err)
	}
	if ack.Received != 1 {
		t.Errorf("received = %d, want 1", ack.Received)
	}
}

func TestExpiredSession_RejectsWrites(t *testing.T) {
	e, _, _, sessions := newTestEngine(t)

	now := time.Now().UTC()
	s := &models.UploadSession{
		UploadID:       "expired-upload",
		FileID:         "expired-file",
		FileName:       "a.bin",
		TotalSize:      10000,
		ChunkSize:      5000,
		TotalChunks:    2,
		CreatedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
		UploadedChunks: models.NewChunkSet(),
	}
	if err := sessions.Create(context.Background(), s, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := e.WriteChunk(context.Background(), s.UploadID, 1,
		bytes.NewReader(make([]byte, 5000)), 5000); !IsCode(err, CodeExpired) {
		t.Errorf("WriteChunk err = %v, want EXPIRED", err)
	}
	if _, err := e.Complete(context.Background(), s.UploadID); !IsCode(err, CodeExpired) {
		t.Errorf("Complete err = %v, want EXPIRED", err)
	}
}

func TestStatus_ReportsMissingChunks(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 15000, 5000)

	if _, err := e.WriteChunk(context.Background(), resp.UploadID, 2,
		bytes.NewReader(make([]byte, 5000)), 5000); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	status, err := e.Status(context.Background(), resp.UploadID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Received != 1 || status.Complete {
		t.Errorf("status = %+v, want one received chunk", status)
	}
	if len(status.MissingChunks) != 2 || status.MissingChunks[0] != 1 || status.MissingChunks[1] != 3 {
		t.Errorf("missing = %v, want [1 3]", status.MissingChunks)
	}
}
