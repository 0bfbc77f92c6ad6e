package api

import (
	"net/url"
	"strings"
)

// Endpoints maps resource kinds to their base paths.
var Endpoints = map[string]string{
	"documents":   "/v2/documents",
	"collections": "/v2/collections",
	"users":       "/v2/users",
	"files":       "/v2/files",
	"webhooks":    "/v2/webhooks",
}

// Endpoint returns the path for kind with escaped sub-path segments
// appended, or "" for an unknown kind.
//
//	Endpoint("documents", "doc_1") == "/v2/documents/doc_1"
func Endpoint(kind string, parts ...string) string {
	base, ok := Endpoints[kind]
	if !ok {
		return ""
	}
	if len(parts) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
