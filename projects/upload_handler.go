package projects

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/klarnow/tracker/common/errors"
	"github.com/klarnow/tracker/pkg/httputil"
	"github.com/klarnow/tracker/pkg/middleware"
	"github.com/klarnow/tracker/pkg/storage"
)

// DefaultUploadFolder is used when the client names no folder
const DefaultUploadFolder = "task-attachments"

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// UploadHandler stores client files in object storage
type UploadHandler struct {
	store    storage.ObjectStore
	limiter  RateLimiter
	maxBytes int64
	metrics  *Metrics
}

// NewUploadHandler creates a new upload handler. A nil store answers every
// upload with 503; a nil limiter disables rate limiting.
func NewUploadHandler(store storage.ObjectStore, limiter RateLimiter, maxBytes int64, metrics *Metrics) *UploadHandler {
	return &UploadHandler{store: store, limiter: limiter, maxBytes: maxBytes, metrics: metrics}
}

// sanitizeFolder keeps a relative, slash separated folder of safe segments
func sanitizeFolder(folder string) string {
	var parts []string
	for _, seg := range strings.Split(folder, "/") {
		seg = unsafeKeyChars.ReplaceAllString(seg, "-")
		seg = strings.Trim(seg, ".-")
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return DefaultUploadFolder
	}
	return strings.Join(parts, "/")
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Trim(unsafeKeyChars.ReplaceAllString(name, "-"), ".-")
	if name == "" {
		return "file"
	}
	return name
}

// Upload stores the multipart "file" field and returns its public URL
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	userID, err := middleware.RequireUser(c)
	if err != nil {
		return httputil.Unauthorized(c, "")
	}
	if h.store == nil {
		h.metrics.uploaded("unavailable")
		return httputil.Error(c, errors.ErrStorageNotConfigured)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.ValidationError(c, "validation failed", map[string]string{"file": "required"})
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		h.metrics.uploaded("too_large")
		return httputil.Error(c, errors.New(errors.ErrFileTooLarge,
			fmt.Sprintf("file exceeds %d bytes", h.maxBytes), fiber.StatusBadRequest))
	}

	if h.limiter != nil {
		ok, err := h.limiter.Allow(c.UserContext(), userID.String())
		if err != nil {
			// Fail open: an unreachable counter store must not block uploads
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("upload rate limit check failed")
		} else if !ok {
			h.metrics.uploaded("rate_limited")
			return httputil.RateLimitExceeded(c)
		}
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("%s/%s-%s", sanitizeFolder(c.Query("folder")), uuid.NewString(), sanitizeFilename(fh.Filename))

	f, err := fh.Open()
	if err != nil {
		return httputil.BadRequest(c, "unreadable file")
	}
	defer f.Close()

	obj, err := h.store.Put(c.UserContext(), key, f, fh.Size, contentType)
	if err != nil {
		h.metrics.uploaded("error")
		log.Error().Err(err).Str("key", key).Msg("upload failed")
		return httputil.InternalError(c, "failed to store file")
	}

	h.metrics.uploaded("ok")
	log.Info().
		Str("user_id", userID.String()).
		Str("key", obj.Key).
		Int64("bytes", obj.Bytes).
		Msg("file uploaded")
	return httputil.Created(c, obj)
}
