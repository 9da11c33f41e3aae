package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/upload"
)

// GetFileHandler handles GET /api/files/{fileID} - file metadata.
func GetFileHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileID")
		if fileID == "" {
			sendError(w, "File ID is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		record, err := engine.GetFileRecord(r.Context(), fileID, r.URL.Query().Get("user"))
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, record)
	}
}

// DownloadHandler handles GET /api/files/{fileID}/download. On
// presign-capable backends it returns a signed URL; otherwise it streams
// the bytes directly.
func DownloadHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileID")
		if fileID == "" {
			sendError(w, "File ID is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		userID := r.URL.Query().Get("user")

		resp, err := engine.DownloadURL(r.Context(), fileID, userID)
		if err == nil {
			sendJSON(w, http.StatusOK, resp)
			return
		}
		if !errors.Is(err, storage.ErrPresignUnsupported) {
			sendEngineError(w, err)
			return
		}

		record, reader, err := engine.OpenFile(r.Context(), fileID, userID)
		if err != nil {
			sendEngineError(w, err)
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Type", record.MimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(record.FileSize, 10))
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", record.FileName))

		if _, err := io.Copy(w, reader); err != nil {
			slog.Warn("download stream interrupted", "file_id", fileID, "error", err)
		}
	}
}

// DeleteFileHandler handles DELETE /api/files/{fileID}.
func DeleteFileHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileID")
		if fileID == "" {
			sendError(w, "File ID is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		if err := engine.DeleteFile(r.Context(), fileID, r.URL.Query().Get("user")); err != nil {
			sendEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ListFilesHandler handles GET /api/files - filtered, paged listing.
func ListFilesHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		query := models.FileQuery{
			Scope:     q.Get("scope"),
			CreatedBy: q.Get("created_by"),
		}

		if mimes := q.Get("mime_types"); mimes != "" {
			query.MimeTypes = strings.Split(mimes, ",")
		}
		if after := q.Get("created_after"); after != "" {
			t, err := time.Parse(time.RFC3339, after)
			if err != nil {
				sendError(w, "created_after must be RFC 3339", "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			query.CreatedAfter = t
		}
		if before := q.Get("created_before"); before != "" {
			t, err := time.Parse(time.RFC3339, before)
			if err != nil {
				sendError(w, "created_before must be RFC 3339", "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			query.CreatedBefore = t
		}
		if page := q.Get("page"); page != "" {
			n, err := strconv.Atoi(page)
			if err != nil || n < 0 {
				sendError(w, "page must be a non-negative integer", "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			query.Page = n
		}
		if size := q.Get("page_size"); size != "" {
			n, err := strconv.Atoi(size)
			if err != nil || n <= 0 || n > 200 {
				sendError(w, "page_size must be in [1, 200]", "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			query.PageSize = n
		}

		result, err := engine.QueryFiles(r.Context(), query)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, result)
	}
}
