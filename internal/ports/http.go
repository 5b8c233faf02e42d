package ports

import (
	"context"
	"net/http"
	"time"
)

type HTTPResponse struct {
	Status int
	Body   []byte
	Header http.Header
}

// LastModified returns the Last-Modified response header.
func (r HTTPResponse) LastModified() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Last-Modified")
}

// HTTPDownloaderPort performs remote reads. Any HTTP response, whatever its
// status, is returned without error; errors are reserved for requests that
// never produced a response.
type HTTPDownloaderPort interface {
	Get(ctx context.Context, url string, headers map[string]string) (HTTPResponse, error)
	Post(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (HTTPResponse, error)
}
