// Package docxtest builds small DOCX packages in memory for tests.
package docxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"math"
	"sort"
)

const namespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

// Package describes the parts of a DOCX file.
type Package struct {
	// Body is the inner XML of w:body.
	Body string
	// Headers and Footers map a part name such as "header1" to the inner
	// XML of its w:hdr or w:ftr.
	Headers map[string]string
	Footers map[string]string
	// Styles is the inner XML of w:styles; omitted when empty.
	Styles string
}

// Bytes returns the zipped package.
func (p Package) Bytes() []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			panic(err)
		}
	}

	write("[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`+
		`<Default Extension="xml" ContentType="application/xml"/>`+
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`+
		`</Types>`)
	write("word/document.xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<w:document %s><w:body>%s</w:body></w:document>`, namespaces, p.Body))

	for _, name := range sortedKeys(p.Headers) {
		write("word/"+name+".xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><w:hdr %s>%s</w:hdr>`, namespaces, p.Headers[name]))
	}
	for _, name := range sortedKeys(p.Footers) {
		write("word/"+name+".xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><w:ftr %s>%s</w:ftr>`, namespaces, p.Footers[name]))
	}
	if p.Styles != "" {
		write("word/styles.xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><w:styles %s>%s</w:styles>`, namespaces, p.Styles))
	}

	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Para returns a paragraph with one run per text.
func Para(texts ...string) string {
	var b bytes.Buffer
	b.WriteString("<w:p>")
	for _, t := range texts {
		fmt.Fprintf(&b, `<w:r><w:t xml:space="preserve">%s</w:t></w:r>`, t)
	}
	b.WriteString("</w:p>")
	return b.String()
}

// Run returns a run with the given run properties XML.
func Run(rPr, text string) string {
	return fmt.Sprintf(`<w:r><w:rPr>%s</w:rPr><w:t>%s</w:t></w:r>`, rPr, text)
}

// RTLPara returns a right-aligned bidi paragraph in the given font.
func RTLPara(font, text string) string {
	return fmt.Sprintf(`<w:p><w:pPr><w:bidi/><w:jc w:val="right"/></w:pPr>%s</w:p>`,
		Run(fmt.Sprintf(`<w:rFonts w:ascii="%[1]s" w:hAnsi="%[1]s" w:cs="%[1]s"/><w:sz w:val="28"/><w:rtl/>`, font), text))
}

// Table returns a table whose cells each hold one paragraph.
func Table(rows ...[]string) string {
	var b bytes.Buffer
	b.WriteString("<w:tbl><w:tblPr/>")
	for _, row := range rows {
		b.WriteString("<w:tr>")
		for _, cell := range row {
			fmt.Fprintf(&b, "<w:tc><w:tcPr/>%s</w:tc>", Para(cell))
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

// Section returns section properties for a page size in points.
func Section(width, height float64, landscape bool) string {
	orient := ""
	if landscape {
		orient = ` w:orient="landscape"`
	}
	return fmt.Sprintf(`<w:sectPr><w:pgSz w:w="%d" w:h="%d"%s/>`+
		`<w:pgMar w:top="1440" w:right="1134" w:bottom="1440" w:left="1134" w:header="708" w:footer="708" w:gutter="0"/></w:sectPr>`,
		int(math.Round(width*20)), int(math.Round(height*20)), orient)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
