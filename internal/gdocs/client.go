// Package gdocs fills Google Docs templates and exports them as PDF. A
// template is never edited: it is copied, the copy is filled and exported,
// and the copy is deleted afterwards whatever the outcome.
package gdocs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/kspro0090/baradar/internal/placeholder"
)

var scopes = []string{
	docs.DocumentsScope,
	drive.DriveScope,
	sheets.SpreadsheetsReadonlyScope,
}

// OpError records which remote step failed for which document.
type OpError struct {
	Op    string // get, copy, replace, export, delete, sheet
	DocID string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("google docs %s %s: %v", e.Op, e.DocID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt: deadlines,
// rate limiting and server errors.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}

// NotFound reports whether the remote document does not exist or is not
// shared with the service account.
func NotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden
	}
	return false
}

type Client struct {
	docs    *docs.Service
	drive   *drive.Service
	sheets  *sheets.Service
	timeout time.Duration
	logger  *zap.Logger
}

// New connects with a service account key file.
func New(ctx context.Context, credentialsPath string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	return NewWithOptions(ctx, timeout, logger,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(scopes...))
}

// NewWithOptions builds the client from explicit API options, such as an
// endpoint and HTTP client in tests.
func NewWithOptions(ctx context.Context, timeout time.Duration, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	docsService, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docs client: %w", err)
	}
	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets client: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		docs:    docsService,
		drive:   driveService,
		sheets:  sheetsService,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Placeholders fetches a document and returns the tokens it uses.
func (c *Client) Placeholders(ctx context.Context, docID string) (*placeholder.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	doc, err := c.docs.Documents.Get(docID).Context(ctx).Do()
	if err != nil {
		return nil, &OpError{Op: "get", DocID: docID, Err: err}
	}
	return ScanDocument(doc), nil
}

// RenderCopy fills a copy of the template and returns the exported PDF.
// The copy is deleted before returning, also on failure.
func (c *Client) RenderCopy(ctx context.Context, templateID, title string, values map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	copied, err := c.drive.Files.Copy(templateID, &drive.File{Name: title}).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &OpError{Op: "copy", DocID: templateID, Err: err}
	}
	defer c.deleteCopy(ctx, copied.Id)

	return c.fillAndExport(ctx, copied.Id, values)
}

// RenderInPlace fills the document itself and exports it. Only used for
// single-use instances, which are consumed by the render.
func (c *Client) RenderInPlace(ctx context.Context, docID string, values map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.fillAndExport(ctx, docID, values)
}

func (c *Client) fillAndExport(ctx context.Context, docID string, values map[string]string) ([]byte, error) {
	if reqs := replaceRequests(values); len(reqs) > 0 {
		_, err := c.docs.Documents.BatchUpdate(docID, &docs.BatchUpdateDocumentRequest{Requests: reqs}).
			Context(ctx).
			Do()
		if err != nil {
			return nil, &OpError{Op: "replace", DocID: docID, Err: err}
		}
	}

	resp, err := c.drive.Files.Export(docID, "application/pdf").Context(ctx).Download()
	if err != nil {
		return nil, &OpError{Op: "export", DocID: docID, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &OpError{Op: "export", DocID: docID, Err: err}
	}
	return data, nil
}

// deleteCopy runs on a context that survives the caller's cancellation so
// a timed-out render still cleans up.
func (c *Client) deleteCopy(ctx context.Context, docID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.drive.Files.Delete(docID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		c.logger.Error("failed to delete temporary document copy",
			zap.String("doc_id", docID), zap.Error(err))
		return
	}
	c.logger.Debug("deleted temporary document copy", zap.String("doc_id", docID))
}

// replaceRequests builds one case-sensitive replaceAllText per token, in
// name order.
func replaceRequests(values map[string]string) []*docs.Request {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	reqs := make([]*docs.Request, 0, len(names))
	for _, name := range names {
		reqs = append(reqs, &docs.Request{
			ReplaceAllText: &docs.ReplaceAllTextRequest{
				ContainsText: &docs.SubstringMatchCriteria{
					Text:      placeholder.Token(name),
					MatchCase: true,
				},
				ReplaceText: values[name],
				// An empty replacement must still be sent.
				ForceSendFields: []string{"ReplaceText"},
			},
		})
	}
	return reqs
}
