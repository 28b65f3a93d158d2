package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/starwalkn/gotenberg-go-client/v8"
	"github.com/starwalkn/gotenberg-go-client/v8/document"
	"go.uber.org/zap"
)

// Converter turns DOCX files into PDF through a Gotenberg server. It is
// used instead of local drawing when the office engine's layout is wanted.
type Converter struct {
	client  *gotenberg.Client
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

func NewConverter(gotenbergURL string, timeoutStr string, retries int, logger *zap.Logger) (*Converter, error) {
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		timeout = 30 * time.Second
		logger.Warn("invalid Gotenberg timeout, using default",
			zap.String("timeout", timeoutStr), zap.Duration("default", timeout), zap.Error(err))
	}
	if retries < 1 {
		retries = 1
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	client, err := gotenberg.NewClient(gotenbergURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gotenberg client: %w", err)
	}

	return &Converter{
		client:  client,
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}, nil
}

// ConvertDocx converts a DOCX package, retrying with a linear backoff.
func (c *Converter) ConvertDocx(ctx context.Context, docx []byte, filename string, landscape bool) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		out, err := c.convertOnce(ctx, docx, filename, landscape)
		if err == nil {
			return out, nil
		}

		lastErr = err
		c.logger.Warn("PDF conversion attempt failed",
			zap.Int("attempt", attempt), zap.Int("max", c.retries), zap.Error(err))

		if attempt < c.retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("failed to convert document after %d attempts: %w", c.retries, lastErr)
}

func (c *Converter) convertOnce(ctx context.Context, docx []byte, filename string, landscape bool) ([]byte, error) {
	convertCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	doc, err := document.FromReader(filename, bytes.NewReader(docx))
	if err != nil {
		return nil, fmt.Errorf("failed to create document from reader: %w", err)
	}

	req := gotenberg.NewLibreOfficeRequest(doc)
	if landscape {
		req.Landscape()
	}

	resp, err := c.client.Send(convertCtx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gotenberg returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
