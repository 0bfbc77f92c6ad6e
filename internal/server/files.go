package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/cloudstore/cloudstore-go/internal/storage"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/cloudstore/cloudstore-go/pkg/logger"
	"github.com/gin-gonic/gin"
)

// filesCollection holds upload metadata keyed by file ID.
const filesCollection = "files"

const maxUploadBytes = 32 << 20

func (s *Server) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" required: "+err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx := c.Request.Context()
	id := utils.GenerateID("file")
	obj, err := s.blobs.Put(ctx, id, f, fh.Size, contentType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	meta := map[string]any{
		"name":         fh.Filename,
		"content_type": contentType,
		"size":         obj.Size,
	}
	if _, err := s.db.UpdateOne(ctx, filesCollection, id, meta, true); err != nil {
		if derr := s.blobs.Delete(ctx, id); derr != nil {
			logger.Warnf("files: cleanup of %s failed: %v", id, derr)
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file_id":      id,
		"name":         fh.Filename,
		"content_type": contentType,
		"size":         obj.Size,
		"size_human":   utils.FormatBytes(obj.Size),
	})
}

func (s *Server) downloadFile(c *gin.Context) {
	id := c.Param("id")
	meta, err := s.db.FindOne(c.Request.Context(), filesCollection, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	rc, obj, err := s.blobs.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer rc.Close()
	name, _ := meta.Data["name"].(string)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	c.Header("Content-Type", obj.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Warnf("files: stream %s: %v", id, err)
	}
}

// fileURL returns a direct download URL when the blob store can presign.
func (s *Server) fileURL(c *gin.Context) {
	p, ok := s.blobs.(storage.Presigner)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "blob store does not support presigned URLs"})
		return
	}
	id := c.Param("id")
	if _, err := s.db.FindOne(c.Request.Context(), filesCollection, id); err != nil {
		abortWithError(c, err)
		return
	}
	u, err := p.PresignedURL(c.Request.Context(), id, 15*time.Minute)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "expires_in": 900})
}

func (s *Server) deleteFile(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	found, err := s.db.DeleteOne(ctx, filesCollection, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !found {
		abortWithError(c, database.ErrNotFound)
		return
	}
	if err := s.blobs.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
