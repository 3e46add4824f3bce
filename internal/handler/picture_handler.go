package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/prn-tf/user-service/internal/picture"
	"github.com/prn-tf/user-service/internal/service"
)

// FileField is the multipart field carrying the picture.
const FileField = "file"

// multipartOverhead is allowed on top of the file size for headers and
// boundaries.
const multipartOverhead = 1 << 20

// PictureHandler serves profile picture uploads.
type PictureHandler struct {
	pictures *service.ProfilePictureService
	maxSize  int64
	logger   zerolog.Logger
}

// NewPictureHandler creates a new PictureHandler.
func NewPictureHandler(pictures *service.ProfilePictureService, maxSize int64, logger zerolog.Logger) *PictureHandler {
	if maxSize <= 0 {
		maxSize = picture.DefaultMaxSize
	}
	return &PictureHandler{
		pictures: pictures,
		maxSize:  maxSize,
		logger:   logger.With().Str("handler", "picture").Logger(),
	}
}

// Upload handles POST /me/profile-picture. The file part is streamed into
// the workflow. A Content-Length on the part is checked before any content
// is read; the limit is enforced on the bytes received either way.
func (h *PictureHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, h.logger, badRequest("expected multipart/form-data body"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, h.logger, badRequest("missing form field \""+FileField+"\""))
			return
		}
		if err != nil {
			writeError(w, h.logger, badRequest("malformed multipart body"))
			return
		}

		if part.FormName() != FileField {
			_ = part.Close()
			continue
		}

		result, err := h.pictures.Upload(r.Context(), id, picture.Candidate{
			Filename: part.FileName(),
			Size:     declaredSize(part),
			Body:     part,
		})
		_ = part.Close()
		if err != nil {
			writeError(w, h.logger, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
		return
	}
}

// declaredSize returns the part's Content-Length, or -1 when it is absent
// or malformed.
func declaredSize(part *multipart.Part) int64 {
	raw := part.Header.Get("Content-Length")
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
