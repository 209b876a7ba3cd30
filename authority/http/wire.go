package http

import "github.com/omalloc/chunksync/api/defined/v1/chunk"

// PageResponse is the body of GET /chunks.
type PageResponse struct {
	Chunks []*chunk.Chunk `json:"chunks"`
	Total  int            `json:"total"`
}

// KeysRequest is the body of POST /chunks/keys and of push messages.
type KeysRequest struct {
	Keys []string `json:"keys"`
}

// KeysResponse is the body returned by POST /chunks/keys.
type KeysResponse struct {
	Chunks []*chunk.Chunk `json:"chunks"`
}

// CountResponse is the body of GET /chunks/count.
type CountResponse struct {
	Total int `json:"total"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	PathPage  = "/chunks"
	PathKeys  = "/chunks/keys"
	PathCount = "/chunks/count"
	PathPush  = "/push"
)
