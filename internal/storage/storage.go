// Package storage keeps uploaded templates and generated PDFs, either in a
// GCS bucket or in a local directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrNotExist = errors.New("storage: object does not exist")

type Store interface {
	// Put stores the object. Readers never observe a partial object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*UploadResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type UploadResult struct {
	ObjectName string `json:"object_name"`
	PublicURL  string `json:"public_url,omitempty"`
	Size       int64  `json:"size"`
}

func readAll(rc io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object name %q", key)
	}
	return clean, nil
}

func TemplateObjectName(serviceID, filename string) string {
	return fmt.Sprintf("templates/%s/%d_%s", serviceID, time.Now().Unix(), path.Base(filename))
}

func PDFFilename(trackingCode string) string {
	return "request_" + trackingCode + ".pdf"
}

func ArtifactObjectName(trackingCode string) string {
	return "requests/" + PDFFilename(trackingCode)
}
