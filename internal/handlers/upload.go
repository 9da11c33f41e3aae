package handlers

import (
	"net/http"
	"strconv"

	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/upload"
)

// UploadInitHandler handles POST /api/upload/init - create a chunked
// upload session (or short-circuit to an existing file on a dedup hit).
func UploadInitHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.InitiateUploadRequest
		if err := decodeJSON(r, &req); err != nil {
			sendError(w, "Invalid JSON request body", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		resp, err := engine.Initiate(r.Context(), &req)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusCreated, resp)
	}
}

// chunkParams pulls the upload ID and chunk number out of the route.
func chunkParams(r *http.Request) (string, int, bool) {
	uploadID := r.PathValue("uploadID")
	n, err := strconv.Atoi(r.PathValue("chunkNumber"))
	if uploadID == "" || err != nil {
		return "", 0, false
	}
	return uploadID, n, true
}

// AuthorizeChunkHandler handles POST /api/upload/{uploadID}/chunk/{chunkNumber}/authorize -
// issue a write handle (presigned URL where the backend supports it).
func AuthorizeChunkHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID, chunkNumber, ok := chunkParams(r)
		if !ok {
			sendError(w, "Invalid upload ID or chunk number", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		handle, err := engine.AuthorizeChunk(r.Context(), uploadID, chunkNumber)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, handle)
	}
}

// WriteChunkHandler handles PUT /api/upload/{uploadID}/chunk/{chunkNumber} -
// the proxied-bytes path: store the chunk through the server and
// acknowledge it in one call.
func WriteChunkHandler(engine *upload.Engine, maxChunkSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID, chunkNumber, ok := chunkParams(r)
		if !ok {
			sendError(w, "Invalid upload ID or chunk number", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		if r.ContentLength <= 0 {
			sendError(w, "Content-Length is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		if r.ContentLength > maxChunkSize {
			sendError(w, "Chunk exceeds maximum size", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		body := http.MaxBytesReader(w, r.Body, maxChunkSize)
		resp, err := engine.WriteChunk(r.Context(), uploadID, chunkNumber, body, r.ContentLength)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// AckChunkHandler handles POST /api/upload/{uploadID}/chunk/{chunkNumber}/ack -
// report a chunk written through a presigned URL.
func AckChunkHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID, chunkNumber, ok := chunkParams(r)
		if !ok {
			sendError(w, "Invalid upload ID or chunk number", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		var req models.AckChunkRequest
		if err := decodeJSON(r, &req); err != nil {
			sendError(w, "Invalid JSON request body", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		resp, err := engine.AcknowledgeChunk(r.Context(), uploadID, chunkNumber, req.Size, req.ContentTag)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// UploadStatusHandler handles GET /api/upload/{uploadID} - report
// session progress including missing chunks.
func UploadStatusHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := r.PathValue("uploadID")
		if uploadID == "" {
			sendError(w, "Upload ID is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		resp, err := engine.Status(r.Context(), uploadID)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// UploadCompleteHandler handles POST /api/upload/{uploadID}/complete -
// finalize a fully-chunked upload.
func UploadCompleteHandler(engine *upload.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := r.PathValue("uploadID")
		if uploadID == "" {
			sendError(w, "Upload ID is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		record, err := engine.Complete(r.Context(), uploadID)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, models.CompleteUploadResponse{
			FileID:     record.FileID,
			Status:     record.Status,
			StorageKey: record.StorageKey,
		})
	}
}

// SmallUploadHandler handles POST /api/upload - the single-shot path for
// payloads under the chunking threshold, sent as multipart form data.
func SmallUploadHandler(engine *upload.Engine, maxSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))

		file, header, err := r.FormFile("file")
		if err != nil {
			sendError(w, "Multipart field 'file' is required", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		defer file.Close()

		meta := upload.SmallUpload{
			FileName:    header.Filename,
			MimeType:    header.Header.Get("Content-Type"),
			Scope:       r.FormValue("scope"),
			CreatedBy:   r.FormValue("created_by"),
			ContentHash: r.FormValue("content_hash"),
			AllowDedup:  r.FormValue("allow_dedup") != "false",
		}

		resp, err := engine.UploadSmall(r.Context(), meta, file)
		if err != nil {
			sendEngineError(w, err)
			return
		}

		status := http.StatusCreated
		if resp.IsDuplicate {
			status = http.StatusOK
		}
		sendJSON(w, status, resp)
	}
}
