package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/gin-gonic/gin"
)

// reserved collections are managed by dedicated endpoints
func reserved(collection string) bool {
	switch collection {
	case "users", filesCollection, webhooksCollection:
		return true
	}
	return strings.HasPrefix(collection, "_")
}

func collectionParam(c *gin.Context, collection string) (string, bool) {
	if collection == "" {
		collection = c.Query("collection")
	}
	if collection == "" {
		badRequest(c, "collection required")
		return "", false
	}
	if reserved(collection) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "collection is reserved: " + collection})
		return "", false
	}
	return collection, true
}

type createRequest struct {
	Collection string           `json:"collection"`
	Data       map[string]any   `json:"data"`
	Documents  []map[string]any `json:"documents"`
}

// createDocuments inserts one document (data) or a batch (documents).
func (s *Server) createDocuments(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	col, ok := collectionParam(c, req.Collection)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if req.Documents != nil {
		ids, err := s.db.BulkInsert(ctx, col, req.Documents)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ids": ids})
		return
	}
	if req.Data == nil {
		badRequest(c, "data or documents required")
		return
	}
	id, err := s.db.Insert(ctx, col, req.Data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	doc, err := s.db.FindOne(ctx, col, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// findDocuments takes the filter as a JSON object in "where" and pages with
// "limit" and "cursor".
func (s *Server) findDocuments(c *gin.Context) {
	col, ok := collectionParam(c, "")
	if !ok {
		return
	}
	var where map[string]any
	if w := c.Query("where"); w != "" {
		if err := json.Unmarshal([]byte(w), &where); err != nil {
			badRequest(c, "where must be a JSON object")
			return
		}
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}
	res, err := s.db.Find(c.Request.Context(), col, where, limit, c.Query("cursor"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if res.Documents == nil {
		res.Documents = []database.Document{}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getDocument(c *gin.Context) {
	col, ok := collectionParam(c, "")
	if !ok {
		return
	}
	doc, err := s.db.FindOne(c.Request.Context(), col, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type updateRequest struct {
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data" binding:"required"`
}

func (s *Server) update(c *gin.Context, upsert bool) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	col, ok := collectionParam(c, req.Collection)
	if !ok {
		return
	}
	doc, err := s.db.UpdateOne(c.Request.Context(), col, c.Param("id"), req.Data, upsert)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// putDocument upserts.
func (s *Server) putDocument(c *gin.Context) { s.update(c, true) }

func (s *Server) patchDocument(c *gin.Context) { s.update(c, false) }

func (s *Server) deleteDocument(c *gin.Context) {
	col, ok := collectionParam(c, "")
	if !ok {
		return
	}
	found, err := s.db.DeleteOne(c.Request.Context(), col, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !found {
		abortWithError(c, database.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCollections(c *gin.Context) {
	names, err := s.db.ListCollections(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !reserved(n) {
			out = append(out, n)
		}
	}
	c.JSON(http.StatusOK, gin.H{"collections": out})
}

type indexRequest struct {
	Fields []string `json:"fields" binding:"required"`
	Unique bool     `json:"unique"`
}

func (s *Server) createIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	col, ok := collectionParam(c, c.Param("name"))
	if !ok {
		return
	}
	name, err := s.db.CreateIndex(c.Request.Context(), col, req.Fields, req.Unique)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name, "collection": col, "fields": req.Fields, "unique": req.Unique})
}
