package processor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Document is the drawable content of a DOCX package.
type Document struct {
	Layout DocumentLayout
	Body   []Block
	Header []Block
	Footer []Block
}

// Block is either a paragraph or a table.
type Block struct {
	Paragraph *Paragraph
	Table     *Table
}

type Paragraph struct {
	Text  string
	Align string // left, right, center, both, start, end; empty when unset
	Bidi  bool
	Font  string // first font named by a run
	Size  float64
	Bold  bool
}

type Table struct {
	Rows [][]Cell
}

type Cell struct {
	Paragraphs []Paragraph
}

// Text joins the cell's paragraphs with newlines.
func (c Cell) Text() string {
	lines := make([]string, len(c.Paragraphs))
	for i, p := range c.Paragraphs {
		lines[i] = p.Text
	}
	return strings.Join(lines, "\n")
}

// blockParser walks a WordprocessingML part with a token decoder. Nested
// tables inside cells are flattened into the cell's paragraphs.
type blockParser struct {
	dec    *xml.Decoder
	blocks []Block

	para   *Paragraph
	text   strings.Builder
	inText bool
	inRPr  bool
	inPPr  bool

	tables []*Table
	cells  []*Cell
}

func parseBlocks(data []byte) ([]Block, error) {
	bp := &blockParser{dec: xml.NewDecoder(bytes.NewReader(data))}
	bp.dec.Strict = false
	for {
		tok, err := bp.dec.Token()
		if errors.Is(err, io.EOF) {
			return bp.blocks, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			bp.start(t)
		case xml.EndElement:
			bp.end(t)
		case xml.CharData:
			if bp.inText && bp.para != nil {
				bp.text.Write(t)
			}
		}
	}
}

func (bp *blockParser) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		if len(bp.tables) == 0 {
			bp.tables = append(bp.tables, &Table{})
		} else {
			// nested: keep collecting into the current cell
			bp.tables = append(bp.tables, nil)
		}
	case "tr":
		if tbl := bp.table(); tbl != nil {
			tbl.Rows = append(tbl.Rows, nil)
		}
	case "tc":
		if tbl := bp.table(); tbl != nil && len(tbl.Rows) > 0 {
			bp.cells = append(bp.cells, &Cell{})
		}
	case "p":
		bp.para = &Paragraph{}
		bp.text.Reset()
	case "t":
		bp.inText = true
	case "tab":
		if bp.para != nil && !bp.inPPr {
			bp.text.WriteByte('\t')
		}
	case "br", "cr":
		if bp.para != nil {
			bp.text.WriteByte('\n')
		}
	case "rPr":
		bp.inRPr = true
	case "pPr":
		bp.inPPr = true
	case "jc":
		if bp.para != nil {
			bp.para.Align = normalizeAlign(attrValue(t, "val"))
		}
	case "bidi":
		if bp.para != nil {
			bp.para.Bidi = attrValue(t, "val") != "0" && attrValue(t, "val") != "false"
		}
	case "rFonts":
		if bp.para != nil && bp.para.Font == "" {
			bp.para.Font = firstNonEmpty(attrValue(t, "cs"), attrValue(t, "ascii"), attrValue(t, "hAnsi"))
		}
	case "sz", "szCs":
		if bp.para != nil && bp.para.Size == 0 {
			if v, err := strconv.ParseFloat(attrValue(t, "val"), 64); err == nil && v > 0 {
				bp.para.Size = v / 2
			}
		}
	case "b", "bCs":
		if bp.para != nil && bp.inRPr {
			v := attrValue(t, "val")
			bp.para.Bold = v != "0" && v != "false"
		}
	}
}

func (bp *blockParser) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		bp.inText = false
	case "rPr":
		bp.inRPr = false
	case "pPr":
		bp.inPPr = false
	case "p":
		if bp.para == nil {
			return
		}
		bp.para.Text = bp.text.String()
		if len(bp.cells) > 0 {
			c := bp.cells[len(bp.cells)-1]
			c.Paragraphs = append(c.Paragraphs, *bp.para)
		} else if len(bp.tables) == 0 {
			bp.blocks = append(bp.blocks, Block{Paragraph: bp.para})
		}
		bp.para = nil
	case "tc":
		tbl := bp.table()
		if tbl == nil || len(bp.cells) == 0 {
			return
		}
		c := bp.cells[len(bp.cells)-1]
		bp.cells = bp.cells[:len(bp.cells)-1]
		last := len(tbl.Rows) - 1
		tbl.Rows[last] = append(tbl.Rows[last], *c)
	case "tbl":
		if len(bp.tables) == 0 {
			return
		}
		tbl := bp.tables[len(bp.tables)-1]
		bp.tables = bp.tables[:len(bp.tables)-1]
		if tbl != nil && len(bp.tables) == 0 {
			bp.blocks = append(bp.blocks, Block{Table: tbl})
		}
	}
}

// table returns the outermost table while no nested table is open.
func (bp *blockParser) table() *Table {
	if len(bp.tables) != 1 {
		return nil
	}
	return bp.tables[0]
}

func attrValue(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func normalizeAlign(v string) string {
	switch v {
	case "both", "distribute":
		return "both"
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
