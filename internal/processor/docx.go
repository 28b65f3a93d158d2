package processor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/kspro0090/baradar/internal/placeholder"
)

const documentPart = "word/document.xml"

var ErrNotDocx = errors.New("processor: not a DOCX package")

// textParts matches the package parts whose paragraphs carry visible text.
var textParts = regexp.MustCompile(`^word/(document|header\d*|footer\d*|footnotes|endnotes)\.xml$`)

var rFontsAttr = regexp.MustCompile(`<w:rFonts\b[^>]*>`)
var fontAttr = regexp.MustCompile(`w:(ascii|hAnsi|cs|eastAsia)="([^"]+)"`)

type zipEntry struct {
	header zip.FileHeader
	data   []byte
}

// DocxProcessor holds a DOCX package in memory. The source bytes are never
// modified; ReZipDocx produces a new package.
type DocxProcessor struct {
	input   []byte
	entries []*zipEntry
	byName  map[string]*zipEntry
}

func NewDocxProcessor(input []byte) *DocxProcessor {
	return &DocxProcessor{input: input}
}

// UnzipDocx reads every part of the package.
func (dp *DocxProcessor) UnzipDocx() error {
	reader, err := zip.NewReader(bytes.NewReader(dp.input), int64(len(dp.input)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotDocx, err)
	}

	dp.entries = nil
	dp.byName = make(map[string]*zipEntry, len(reader.File))
	for _, file := range reader.File {
		data, err := readZipFile(file)
		if err != nil {
			return fmt.Errorf("failed to extract file %s: %w", file.Name, err)
		}
		e := &zipEntry{header: file.FileHeader, data: data}
		dp.entries = append(dp.entries, e)
		dp.byName[file.Name] = e
	}

	if _, ok := dp.byName[documentPart]; !ok {
		return fmt.Errorf("%w: missing %s", ErrNotDocx, documentPart)
	}
	return nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Part returns the raw bytes of a package part.
func (dp *DocxProcessor) Part(name string) ([]byte, bool) {
	e, ok := dp.byName[name]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// textPartNames returns document.xml first, then headers, footers and
// notes in name order.
func (dp *DocxProcessor) textPartNames() []string {
	var names []string
	for _, e := range dp.entries {
		if e.header.Name != documentPart && textParts.MatchString(e.header.Name) {
			names = append(names, e.header.Name)
		}
	}
	sort.Strings(names)
	return append([]string{documentPart}, names...)
}

// ExtractPlaceholders returns the distinct token names of the document in
// order of first appearance. Runs of a paragraph are joined before
// matching so a token split by formatting is still found.
func (dp *DocxProcessor) ExtractPlaceholders() *placeholder.Set {
	found := placeholder.NewSet()
	for _, name := range dp.textPartNames() {
		for _, p := range scanParagraphs(dp.byName[name].data) {
			for _, m := range placeholder.Find(p.text()) {
				found.Add(m.Name)
			}
		}
	}
	return found
}

// FindAndReplaceInDocument substitutes every token that has a value in
// every text part. Tokens without a value are kept. It returns the number
// of substitutions made.
func (dp *DocxProcessor) FindAndReplaceInDocument(values map[string]string) (int, error) {
	total := 0
	for _, name := range dp.textPartNames() {
		e := dp.byName[name]
		out, n, err := replaceInPart(e.data, values)
		if err != nil {
			return total, fmt.Errorf("failed to replace placeholders in %s: %w", name, err)
		}
		e.data = out
		total += n
	}
	return total, nil
}

// ReZipDocx writes the package, with any substitutions, in its original
// entry order.
func (dp *DocxProcessor) ReZipDocx() ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, e := range dp.entries {
		method := zip.Deflate
		if strings.HasSuffix(e.header.Name, "/") {
			method = zip.Store
		}
		w, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:     e.header.Name,
			Method:   method,
			Modified: e.header.Modified,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish output document: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractFonts lists the font names referenced by run properties in the
// document and its styles, sorted.
func (dp *DocxProcessor) ExtractFonts() []string {
	seen := make(map[string]bool)
	parts := append(dp.textPartNames(), "word/styles.xml")
	for _, name := range parts {
		e, ok := dp.byName[name]
		if !ok {
			continue
		}
		for _, tag := range rFontsAttr.FindAll(e.data, -1) {
			for _, m := range fontAttr.FindAllSubmatch(tag, -1) {
				seen[string(m[2])] = true
			}
		}
	}

	fonts := make([]string, 0, len(seen))
	for f := range seen {
		fonts = append(fonts, f)
	}
	sort.Strings(fonts)
	return fonts
}

// DetectOrientation reports whether the first section is landscape.
func (dp *DocxProcessor) DetectOrientation() bool {
	return dp.Layout().Landscape
}

// Layout returns the page geometry of the first section.
func (dp *DocxProcessor) Layout() DocumentLayout {
	return parseDocumentLayout(string(dp.byName[documentPart].data))
}

// Document parses the body, headers and footers into blocks for drawing.
func (dp *DocxProcessor) Document() (*Document, error) {
	body, err := parseBlocks(dp.byName[documentPart].data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", documentPart, err)
	}
	doc := &Document{Layout: dp.Layout(), Body: body}

	for _, name := range dp.textPartNames()[1:] {
		blocks, err := parseBlocks(dp.byName[name].data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		switch base := path.Base(name); {
		case strings.HasPrefix(base, "header"):
			doc.Header = append(doc.Header, blocks...)
		case strings.HasPrefix(base, "footer"):
			doc.Footer = append(doc.Footer, blocks...)
		}
	}
	return doc, nil
}
