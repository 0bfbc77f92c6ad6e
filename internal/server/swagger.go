package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerSwagger serves a Swagger UI page and the OpenAPI document.
func registerSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>cloudstore-dev Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "cloudstore-dev", "version": "v2" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/oauth/token": {
      "post": { "summary": "Client credentials grant", "security": [], "requestBody": { "content": { "application/x-www-form-urlencoded": { "schema": {"type":"object","properties":{"grant_type":{"type":"string"},"client_id":{"type":"string"},"client_secret":{"type":"string"},"scope":{"type":"string"}}}}}}, "responses": { "200": { "description": "token" }, "401": { "description": "invalid_client" } } }
    },
    "/v2/auth/token": {
      "post": { "summary": "Exchange an API key or a service account assertion", "security": [], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"grant_type":{"type":"string","enum":["api_key","service_account"]},"api_key":{"type":"string"},"scope":{"type":"string"},"assertion":{"type":"string"}}}}}}, "responses": { "200": { "description": "token" }, "400": { "description": "validation error" }, "401": { "description": "authentication failed" } } }
    },
    "/v2/auth/refresh": {
      "post": { "summary": "Rotate a token", "security": [], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"access_token":{"type":"string"},"refresh_token":{"type":"string"},"scope":{"type":"string"}}}}}}, "responses": { "200": { "description": "new token" }, "400": { "description": "missing refresh_token" }, "401": { "description": "unknown refresh token" } } }
    },
    "/v2/documents": {
      "get": { "summary": "Find documents", "parameters": [ {"name":"collection","in":"query","required":true,"schema":{"type":"string"}}, {"name":"where","in":"query","schema":{"type":"string"}}, {"name":"limit","in":"query","schema":{"type":"integer"}}, {"name":"cursor","in":"query","schema":{"type":"string"}} ], "responses": { "200": { "description": "query result" }, "400": { "description": "invalid cursor" } } },
      "post": { "summary": "Insert one document (data) or many (documents)", "responses": { "201": { "description": "created" }, "409": { "description": "unique constraint violation" } } }
    },
    "/v2/documents/{id}": {
      "get": { "summary": "Get a document", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "put": { "summary": "Upsert a document", "responses": { "200": { "description": "document" } } },
      "patch": { "summary": "Merge into a document", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete a document", "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/v2/collections": { "get": { "summary": "List collections", "responses": { "200": { "description": "collection names" } } } },
    "/v2/collections/{name}/indexes": { "post": { "summary": "Create an index", "responses": { "201": { "description": "index name" }, "409": { "description": "existing data violates uniqueness" } } } },
    "/v2/users/me": { "get": { "summary": "Current user", "responses": { "200": { "description": "user" } } } },
    "/v2/files": { "post": { "summary": "Upload a file (multipart field file)", "responses": { "200": { "description": "file_id" } } } },
    "/v2/files/{id}": {
      "get": { "summary": "Download a file", "responses": { "200": { "description": "content" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete a file", "responses": { "204": { "description": "deleted" } } }
    },
    "/v2/files/{id}/url": { "get": { "summary": "Presigned download URL", "responses": { "200": { "description": "url" }, "501": { "description": "not supported by the blob store" } } } },
    "/v2/webhooks": {
      "get": { "summary": "List webhooks", "parameters": [ {"name":"page","in":"query","schema":{"type":"integer"}}, {"name":"per_page","in":"query","schema":{"type":"integer"}} ], "responses": { "200": { "description": "page of webhooks" } } },
      "post": { "summary": "Create a webhook", "responses": { "201": { "description": "webhook" } } }
    },
    "/v2/webhooks/{id}": { "delete": { "summary": "Delete a webhook", "responses": { "204": { "description": "deleted" } } } },
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "security": [], "responses": { "200": { "description": "metrics" } } } }
  }
}`
