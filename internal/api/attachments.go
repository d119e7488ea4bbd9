package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studyhub/internal/service/attachment"
)

// multipart overhead allowed on top of the file limit before the body is cut off
const uploadSlack = 1 << 20

func (h *Handler) uploadAttachment(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, attachment.MaxFileBytes+uploadSlack)
	if err := c.Request.ParseMultipartForm(attachment.MaxFileBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, attachment.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}
	defer file.Close()

	ref, err := h.attachments.Store(c.Request.Context(), id.UserID, attachment.Upload{
		FileName:     fileHeader.Filename,
		DeclaredType: fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Body:         file,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("attachment stored",
		zap.Int64("user_id", id.UserID),
		zap.String("attachment_id", ref.ID),
		zap.String("mime_type", ref.MimeType),
	)
	c.JSON(http.StatusOK, ref)
}

func (h *Handler) attachmentURL(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	url, err := h.attachments.SignedURL(c.Request.Context(), c.Param("id"), id.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// serveFile streams a locally stored object; the signed query string is the only credential.
func (h *Handler) serveFile(c *gin.Context) {
	objectPath := c.Param("path")
	if len(objectPath) > 0 && objectPath[0] == '/' {
		objectPath = objectPath[1:]
	}
	if err := h.files.Verify(objectPath, c.Query("expires"), c.Query("sig")); err != nil {
		h.respondError(c, err)
		return
	}
	f, err := h.files.Open(objectPath)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, path.Base(objectPath), info.ModTime(), f)
}
