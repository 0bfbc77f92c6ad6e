package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cloudstore/cloudstore-go/internal/database"
	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/gin-gonic/gin"
)

const webhooksCollection = "webhooks"

// webhookEvents are the events a subscription may name.
var webhookEvents = map[string]bool{
	"document.created": true,
	"document.updated": true,
	"document.deleted": true,
	"file.uploaded":    true,
}

type webhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

func (s *Server) createWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		badRequest(c, "url must be an absolute http(s) URL")
		return
	}
	if len(req.Events) == 0 {
		badRequest(c, "at least one event required")
		return
	}
	events := make([]any, 0, len(req.Events))
	for _, e := range req.Events {
		if !webhookEvents[e] {
			badRequest(c, "unknown event: "+e)
			return
		}
		events = append(events, e)
	}
	ctx := c.Request.Context()
	id, err := s.db.Insert(ctx, webhooksCollection, map[string]any{"url": req.URL, "events": events})
	if err != nil {
		abortWithError(c, err)
		return
	}
	doc, err := s.db.FindOne(ctx, webhooksCollection, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// listWebhooks pages with page/per_page rather than a cursor.
func (s *Server) listWebhooks(c *gin.Context) {
	page, perPage := 1, 20
	var err error
	if v := c.Query("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			badRequest(c, "page must be an integer")
			return
		}
	}
	if v := c.Query("per_page"); v != "" {
		if perPage, err = strconv.Atoi(v); err != nil {
			badRequest(c, "per_page must be an integer")
			return
		}
	}
	all, err := s.allDocuments(c.Request.Context(), webhooksCollection)
	if err != nil {
		abortWithError(c, err)
		return
	}
	p, err := utils.Paginate(all, page, perPage)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// allDocuments drains every page of a collection.
func (s *Server) allDocuments(ctx context.Context, collection string) ([]database.Document, error) {
	out := []database.Document{}
	cursor := ""
	for {
		res, err := s.db.Find(ctx, collection, nil, database.DefaultMaxResults, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Documents...)
		if !res.HasMore {
			return out, nil
		}
		cursor = res.Cursor
	}
}

func (s *Server) deleteWebhook(c *gin.Context) {
	found, err := s.db.DeleteOne(c.Request.Context(), webhooksCollection, c.Param("id"))
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
