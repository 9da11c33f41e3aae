package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/storage"
)

func TestComplete_RejectsIncompleteUpload(t *testing.T) {
	e, blobs, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)

	if _, err := e.WriteChunk(context.Background(), resp.UploadID, 1,
		bytes.NewReader(make([]byte, 5000)), 5000); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	_, err := e.Complete(context.Background(), resp.UploadID)
	if !IsCode(err, CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	if n := blobs.ComposeCalls.Load(); n != 0 {
		t.Errorf("compose calls = %d, want 0 for incomplete upload", n)
	}
}

func TestComplete_EndToEnd(t *testing.T) {
	e, blobs, db, sessions := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)
	writeAllChunks(t, e, resp, 10000)

	record, err := e.Complete(context.Background(), resp.UploadID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if record.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.Status)
	}
	if record.StorageKey == "" {
		t.Error("storage key not set after finalize")
	}

	data, ok := blobs.Object(record.StorageKey)
	if !ok {
		t.Fatal("composed object missing")
	}
	if int64(len(data)) != 10000 {
		t.Errorf("composed size = %d, want 10000", len(data))
	}
	// Chunks concatenate in order: first half from chunk 1, second from chunk 2.
	if data[0] != 1 || data[9999] != 2 {
		t.Error("composed bytes out of order")
	}

	if _, err := sessions.Get(context.Background(), resp.UploadID); err == nil {
		t.Error("session should be deleted after finalize")
	}

	// Temp chunks are reclaimed asynchronously.
	e.Wait()
	for n := 1; n <= resp.TotalChunks; n++ {
		if _, ok := blobs.Object(storage.ChunkKey(resp.UploadID, n)); ok {
			t.Errorf("chunk %d not reclaimed", n)
		}
	}
	chunks, err := database.GetChunkRecords(db, resp.UploadID)
	if err != nil {
		t.Fatalf("GetChunkRecords: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunk audit rows = %d, want 0 after reclaim", len(chunks))
	}
}

func TestComplete_ConcurrentCallersComposeOnce(t *testing.T) {
	e, blobs, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)
	writeAllChunks(t, e, resp, 10000)

	const callers = 8
	statuses := make([]models.UploadStatus, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := e.Complete(context.Background(), resp.UploadID)
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = record.Status
		}(i)
	}
	wg.Wait()

	if n := blobs.ComposeCalls.Load(); n != 1 {
		t.Errorf("compose calls = %d, want exactly 1", n)
	}

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			// Losers may arrive after the winner deleted the session, or
			// mid-compose; both surface as engine errors, never a second
			// compose.
			if !IsCode(errs[i], CodeNotFound) && !IsCode(errs[i], CodeConflict) {
				t.Errorf("caller %d: unexpected error %v", i, errs[i])
			}
			continue
		}
		if statuses[i] != models.StatusCompleted {
			t.Errorf("caller %d: status = %s, want COMPLETED", i, statuses[i])
		}
	}
}

func TestComplete_LosesDedupRaceToCommittedUpload(t *testing.T) {
	e, blobs, db, sessions := newTestEngine(t)

	payload := []byte("0123456789")
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	resp, err := e.Initiate(context.Background(), &models.InitiateUploadRequest{
		FileName:    "a.bin",
		TotalSize:   int64(len(payload)),
		ChunkSize:   5,
		ContentHash: hash,
		AllowDedup:  true,
		CreatedBy:   "tester",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	writeAllChunks(t, e, resp, int64(len(payload)))

	// Identical content commits through the single-shot path while the
	// chunked upload is still in flight.
	winner, err := e.UploadSmall(context.Background(), SmallUpload{
		FileName:   "b.bin",
		AllowDedup: true,
	}, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("UploadSmall: %v", err)
	}
	if winner.IsDuplicate {
		t.Fatal("single-shot upload should have committed first, not deduplicated")
	}

	// Finalize hits the unique constraint and must hand back the
	// winner's record instead of erroring or composing.
	record, err := e.Complete(context.Background(), resp.UploadID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if record.FileID != winner.FileID {
		t.Errorf("file_id = %s, want winner %s", record.FileID, winner.FileID)
	}
	if record.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", record.Status)
	}
	if n := blobs.ComposeCalls.Load(); n != 0 {
		t.Errorf("compose calls = %d, want 0 after lost dedup race", n)
	}

	loser, err := database.GetFile(db, resp.FileID)
	if err != nil {
		t.Fatalf("GetFile loser: %v", err)
	}
	if loser.Status != models.StatusFailed {
		t.Errorf("loser status = %s, want FAILED", loser.Status)
	}

	if _, err := sessions.Get(context.Background(), resp.UploadID); err == nil {
		t.Error("loser session should be deleted")
	}
}

func TestComplete_ComposeFailurePreservesChunks(t *testing.T) {
	e, blobs, db, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)
	writeAllChunks(t, e, resp, 10000)

	blobs.ComposeError = errors.New("backend unavailable")

	_, err := e.Complete(context.Background(), resp.UploadID)
	if !IsCode(err, CodeUpstream) {
		t.Fatalf("err = %v, want UPSTREAM_ERROR", err)
	}

	record, err := database.GetFile(db, resp.FileID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", record.Status)
	}

	// Chunk objects must survive so no retry requires a re-upload.
	for n := 1; n <= resp.TotalChunks; n++ {
		if _, ok := blobs.Object(storage.ChunkKey(resp.UploadID, n)); !ok {
			t.Errorf("chunk %d was deleted after compose failure", n)
		}
	}
}

func TestComplete_FailedRecordIsTerminal(t *testing.T) {
	e, blobs, _, _ := newTestEngine(t)
	resp := initiateTest(t, e, 10000, 5000)
	writeAllChunks(t, e, resp, 10000)

	blobs.ComposeError = errors.New("backend unavailable")
	if _, err := e.Complete(context.Background(), resp.UploadID); err == nil {
		t.Fatal("expected compose failure")
	}

	// Retrying complete observes FAILED; it never re-composes.
	blobs.ComposeError = nil
	before := blobs.ComposeCalls.Load()

	record, err := e.Complete(context.Background(), resp.UploadID)
	if err != nil {
		t.Fatalf("Complete retry: %v", err)
	}
	if record.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", record.Status)
	}
	if blobs.ComposeCalls.Load() != before {
		t.Error("retry after FAILED must not compose again")
	}
}

func TestComplete_UnknownSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	if _, err := e.Complete(context.Background(), "no-such-upload"); !IsCode(err, CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}
