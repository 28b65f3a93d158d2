package gdocs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SheetChecker answers whether a value is listed in a spreadsheet column.
// Column contents are cached per sheet and column.
type SheetChecker struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]sheetColumn
}

type sheetColumn struct {
	values  []string
	fetched time.Time
}

func NewSheetChecker(client *Client, ttl time.Duration) *SheetChecker {
	return &SheetChecker{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]sheetColumn),
	}
}

// columnRange builds an A1 range covering a whole column.
func columnRange(sheet, column string) string {
	column = strings.ToUpper(strings.TrimSpace(column))
	if column == "" {
		column = "A"
	}
	if sheet == "" {
		return column + ":" + column
	}
	return fmt.Sprintf("'%s'!%s:%s", strings.ReplaceAll(sheet, "'", "''"), column, column)
}

// Column returns the non-empty trimmed cells of a column.
func (s *SheetChecker) Column(ctx context.Context, spreadsheetID, sheet, column string) ([]string, error) {
	rng := columnRange(sheet, column)
	key := spreadsheetID + "|" + rng

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && s.now().Sub(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.values, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.client.timeout)
	defer cancel()

	resp, err := s.client.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, &OpError{Op: "sheet", DocID: spreadsheetID, Err: err}
	}

	var values []string
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(fmt.Sprint(row[0])); v != "" {
			values = append(values, v)
		}
	}

	s.mu.Lock()
	s.cache[key] = sheetColumn{values: values, fetched: s.now()}
	s.mu.Unlock()

	s.client.logger.Info("loaded sheet column",
		zap.String("sheet_id", spreadsheetID), zap.String("range", rng), zap.Int("values", len(values)))
	return values, nil
}

// Contains reports whether value appears in the column, ignoring case and
// surrounding whitespace.
func (s *SheetChecker) Contains(ctx context.Context, spreadsheetID, column, value string) (bool, error) {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return false, nil
	}
	values, err := s.Column(ctx, spreadsheetID, "", column)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if strings.ToLower(v) == want {
			return true, nil
		}
	}
	return false, nil
}

// ClearCache forgets every cached column.
func (s *SheetChecker) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]sheetColumn)
}
