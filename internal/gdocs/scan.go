package gdocs

import (
	"sort"
	"strings"

	"google.golang.org/api/docs/v1"

	"github.com/kspro0090/baradar/internal/placeholder"
)

// ScanDocument returns the tokens of a document. The text runs of each
// paragraph are joined before matching. The body is scanned first, then
// headers, footers and footnotes in ID order.
func ScanDocument(doc *docs.Document) *placeholder.Set {
	found := placeholder.NewSet()
	if doc == nil {
		return found
	}
	if doc.Body != nil {
		scanContent(found, doc.Body.Content)
	}
	for _, id := range sortedKeys(doc.Headers) {
		scanContent(found, doc.Headers[id].Content)
	}
	for _, id := range sortedKeys(doc.Footers) {
		scanContent(found, doc.Footers[id].Content)
	}
	for _, id := range sortedKeys(doc.Footnotes) {
		scanContent(found, doc.Footnotes[id].Content)
	}
	return found
}

func scanContent(found *placeholder.Set, content []*docs.StructuralElement) {
	for _, el := range content {
		switch {
		case el.Paragraph != nil:
			found.Merge(placeholder.Scan(paragraphText(el.Paragraph)))
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					scanContent(found, cell.Content)
				}
			}
		case el.TableOfContents != nil:
			scanContent(found, el.TableOfContents.Content)
		}
	}
}

func paragraphText(p *docs.Paragraph) string {
	var b strings.Builder
	for _, el := range p.Elements {
		if el.TextRun != nil {
			b.WriteString(el.TextRun.Content)
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
