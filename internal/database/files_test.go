package database

import (
	"database/sql"
	"testing"
	"time"

	"github.com/filedepot/filedepot/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(fileID string) *models.FileRecord {
	now := time.Now().UTC()
	return &models.FileRecord{
		FileID:           fileID,
		FileName:         fileID + ".bin",
		OriginalFilename: fileID + ".bin",
		FileSize:         1024,
		MimeType:         "application/octet-stream",
		ContentHash:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		StorageBucket:    "test",
		Status:           models.StatusUploading,
		CreatedBy:        "tester",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCreateAndGetFile(t *testing.T) {
	db := setupDB(t)

	rec := testRecord("f1")
	if err := CreateFile(db, rec); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	got, err := GetFile(db, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.FileName != rec.FileName || got.Status != models.StatusUploading {
		t.Errorf("got %+v", got)
	}

	absent, err := GetFile(db, "missing")
	if err != nil {
		t.Fatalf("GetFile absent: %v", err)
	}
	if absent != nil {
		t.Error("absent file should return nil, nil")
	}
}

func TestDedupConstraint(t *testing.T) {
	db := setupDB(t)

	first := testRecord("f1")
	first.Status = models.StatusCompleted
	first.Dedup = true
	if err := CreateFile(db, first); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Same (hash, scope), COMPLETED, dedup-participating: must violate.
	second := testRecord("f2")
	second.Status = models.StatusCompleted
	second.Dedup = true
	err := CreateFile(db, second)
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}

	// Same hash but opted out of dedup: allowed.
	third := testRecord("f3")
	third.Status = models.StatusCompleted
	third.Dedup = false
	if err := CreateFile(db, third); err != nil {
		t.Fatalf("CreateFile dedup=false: %v", err)
	}

	// Same hash but non-COMPLETED: allowed (in-flight uploads).
	fourth := testRecord("f4")
	fourth.Dedup = true
	if err := CreateFile(db, fourth); err != nil {
		t.Fatalf("CreateFile in-flight: %v", err)
	}

	// Different scope: allowed.
	fifth := testRecord("f5")
	fifth.Status = models.StatusCompleted
	fifth.Dedup = true
	fifth.Scope = "other"
	if err := CreateFile(db, fifth); err != nil {
		t.Fatalf("CreateFile other scope: %v", err)
	}
}

func TestFindCompletedByHashAndScope(t *testing.T) {
	db := setupDB(t)

	rec := testRecord("f1")
	rec.Status = models.StatusCompleted
	rec.Dedup = true
	if err := CreateFile(db, rec); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	got, err := FindCompletedByHashAndScope(db, rec.ContentHash, "")
	if err != nil {
		t.Fatalf("FindCompletedByHashAndScope: %v", err)
	}
	if got == nil || got.FileID != "f1" {
		t.Errorf("got %+v, want f1", got)
	}

	miss, err := FindCompletedByHashAndScope(db, rec.ContentHash, "other-scope")
	if err != nil {
		t.Fatalf("FindCompletedByHashAndScope: %v", err)
	}
	if miss != nil {
		t.Error("different scope should not match")
	}

	// Opted-out records never resolve.
	optOut := testRecord("f2")
	optOut.Status = models.StatusCompleted
	optOut.Dedup = false
	optOut.Scope = "private"
	if err := CreateFile(db, optOut); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	miss, err = FindCompletedByHashAndScope(db, optOut.ContentHash, "private")
	if err != nil {
		t.Fatalf("FindCompletedByHashAndScope: %v", err)
	}
	if miss != nil {
		t.Error("dedup=false record must not resolve")
	}
}

func TestTransitionFileStatus_CAS(t *testing.T) {
	db := setupDB(t)

	if err := CreateFile(db, testRecord("f1")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	won, err := TransitionFileStatus(db, "f1",
		[]models.UploadStatus{models.StatusPending, models.StatusUploading},
		models.StatusCompleted)
	if err != nil {
		t.Fatalf("TransitionFileStatus: %v", err)
	}
	if !won {
		t.Fatal("first transition should win")
	}

	// Second attempt from the same preconditions must lose.
	won, err = TransitionFileStatus(db, "f1",
		[]models.UploadStatus{models.StatusPending, models.StatusUploading},
		models.StatusCompleted)
	if err != nil {
		t.Fatalf("TransitionFileStatus: %v", err)
	}
	if won {
		t.Error("second transition should lose the CAS")
	}

	got, _ := GetFile(db, "f1")
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}

func TestSetFileStorageLocation(t *testing.T) {
	db := setupDB(t)

	if err := CreateFile(db, testRecord("f1")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := SetFileStorageLocation(db, "f1", "bucket-x", "files/f1", "text/plain"); err != nil {
		t.Fatalf("SetFileStorageLocation: %v", err)
	}

	got, _ := GetFile(db, "f1")
	if got.StorageBucket != "bucket-x" || got.StorageKey != "files/f1" || got.MimeType != "text/plain" {
		t.Errorf("got %+v", got)
	}
}

func TestGetFailedFilesOlderThan(t *testing.T) {
	db := setupDB(t)
	now := time.Now().UTC()

	old := testRecord("old")
	old.Status = models.StatusFailed
	old.Dedup = false
	old.UpdatedAt = now.Add(-8 * 24 * time.Hour)
	if err := CreateFile(db, old); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	recent := testRecord("recent")
	recent.Status = models.StatusFailed
	recent.Dedup = false
	recent.UpdatedAt = now.Add(-24 * time.Hour)
	if err := CreateFile(db, recent); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	failed, err := GetFailedFilesOlderThan(db, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("GetFailedFilesOlderThan: %v", err)
	}
	if len(failed) != 1 || failed[0].FileID != "old" {
		t.Errorf("failed = %v, want only the old record", failed)
	}
}

func TestMarkExpiredFiles(t *testing.T) {
	db := setupDB(t)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expiring := testRecord("expiring")
	expiring.Status = models.StatusCompleted
	expiring.Dedup = false
	expiring.ExpiresAt = &past
	if err := CreateFile(db, expiring); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	fresh := testRecord("fresh")
	fresh.Status = models.StatusCompleted
	fresh.Dedup = false
	fresh.Scope = "other"
	fresh.ExpiresAt = &future
	if err := CreateFile(db, fresh); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	n, err := MarkExpiredFiles(db, now)
	if err != nil {
		t.Fatalf("MarkExpiredFiles: %v", err)
	}
	if n != 1 {
		t.Errorf("marked = %d, want 1", n)
	}

	got, _ := GetFile(db, "expiring")
	if got.Status != models.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
	got, _ = GetFile(db, "fresh")
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}

func TestQueryFiles(t *testing.T) {
	db := setupDB(t)
	now := time.Now().UTC()

	for i, scope := range []string{"a", "a", "b"} {
		rec := testRecord(string(rune('x' + i)))
		rec.Dedup = false
		rec.Scope = scope
		rec.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		if err := CreateFile(db, rec); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
	}

	result, err := QueryFiles(db, models.FileQuery{Scope: "a"})
	if err != nil {
		t.Fatalf("QueryFiles: %v", err)
	}
	if result.Total != 2 || len(result.Files) != 2 {
		t.Errorf("total = %d, files = %d, want 2 and 2", result.Total, len(result.Files))
	}

	paged, err := QueryFiles(db, models.FileQuery{Scope: "a", PageSize: 1, Page: 1})
	if err != nil {
		t.Fatalf("QueryFiles paged: %v", err)
	}
	if paged.Total != 2 || len(paged.Files) != 1 {
		t.Errorf("paged total = %d, files = %d, want 2 and 1", paged.Total, len(paged.Files))
	}
}
