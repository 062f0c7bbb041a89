package pdf

import (
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Page geometry in millimetres (A4 portrait)
const (
	pageMargin   = 15.0
	contentWidth = 210.0 - 2*pageMargin
	bodyFont     = "Arial"
	bodySize     = 10.0
	lineHeight   = 5.0
)

// listState tracks numbering for one nesting level
type listState struct {
	ordered bool
	next    int
}

// reportRenderer walks a goldmark AST and draws it onto an fpdf document
type reportRenderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	tr     func(string) string

	bold   bool
	italic bool
	quote  int
	lists  []listState
	link   string
}

func newReportRenderer(pdf *fpdf.Fpdf, source []byte) *reportRenderer {
	return &reportRenderer{
		pdf:    pdf,
		source: source,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

func (r *reportRenderer) render(doc ast.Node) error {
	return ast.Walk(doc, r.walk)
}

func (r *reportRenderer) applyFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(bodyFont, style, bodySize)
}

func (r *reportRenderer) indent() float64 {
	return pageMargin + float64(len(r.lists))*5 + float64(r.quote)*6
}

func (r *reportRenderer) write(s string) {
	if s == "" {
		return
	}
	if r.link != "" {
		r.pdf.SetTextColor(30, 80, 180)
		r.pdf.WriteLinkString(lineHeight, r.tr(s), r.link)
		r.pdf.SetTextColor(0, 0, 0)
		return
	}
	r.pdf.Write(lineHeight, r.tr(s))
}

func (r *reportRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.heading(node, entering)
	case *ast.Paragraph:
		if entering {
			r.pdf.SetLeftMargin(r.indent())
		} else {
			r.pdf.Ln(lineHeight + 1.5)
		}
	case *ast.TextBlock:
		if !entering {
			r.pdf.Ln(lineHeight)
		}
	case *ast.Text:
		if entering {
			r.write(string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() {
				r.write(" ")
			}
			if node.HardLineBreak() {
				r.pdf.Ln(lineHeight)
			}
		}
	case *ast.String:
		if entering {
			r.write(string(node.Value))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.applyFont()
	case *ast.Link:
		if entering {
			r.link = string(node.Destination)
		} else {
			r.link = ""
		}
	case *ast.AutoLink:
		if entering {
			url := string(node.URL(r.source))
			r.link = url
			r.write(url)
			r.link = ""
		}
		return ast.WalkSkipChildren, nil
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", bodySize)
			r.write(string(node.Text(r.source)))
			r.applyFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		if entering {
			r.codeBlock(node.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.CodeBlock:
		if entering {
			r.codeBlock(node.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.Blockquote:
		if entering {
			r.quote++
			r.pdf.SetTextColor(90, 90, 90)
		} else {
			r.quote--
			if r.quote == 0 {
				r.pdf.SetTextColor(0, 0, 0)
			}
		}
		r.pdf.SetLeftMargin(r.indent())
	case *ast.List:
		if entering {
			start := node.Start
			if start == 0 {
				start = 1
			}
			r.lists = append(r.lists, listState{ordered: node.IsOrdered(), next: start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
			r.pdf.SetLeftMargin(r.indent())
			if len(r.lists) == 0 {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.listMarker()
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			y := r.pdf.GetY()
			r.pdf.SetDrawColor(180, 180, 180)
			r.pdf.Line(pageMargin, y, pageMargin+contentWidth, y)
			r.pdf.SetDrawColor(0, 0, 0)
			r.pdf.Ln(4)
		}
	case *extast.Strikethrough:
		// rendered as plain text
	case *extast.Table:
		if entering {
			r.table(node)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *reportRenderer) heading(n *ast.Heading, entering bool) {
	if !entering {
		if n.Level == 1 {
			y := r.pdf.GetY() + lineHeight + 2
			r.pdf.SetDrawColor(30, 80, 180)
			r.pdf.Line(pageMargin, y, pageMargin+contentWidth, y)
			r.pdf.SetDrawColor(0, 0, 0)
			r.pdf.Ln(lineHeight + 5)
		} else {
			r.pdf.Ln(lineHeight + 2)
		}
		r.pdf.SetTextColor(0, 0, 0)
		r.applyFont()
		return
	}

	sizes := map[int]float64{1: 18, 2: 14, 3: 12}
	size, ok := sizes[n.Level]
	if !ok {
		size = 11
	}
	r.pdf.SetLeftMargin(pageMargin)
	r.pdf.Ln(3)
	if n.Level <= 2 {
		r.pdf.SetTextColor(30, 60, 120)
	}
	r.pdf.SetFont(bodyFont, "B", size)
}

func (r *reportRenderer) listMarker() {
	if len(r.lists) == 0 {
		return
	}
	level := &r.lists[len(r.lists)-1]
	marker := "-"
	if level.ordered {
		marker = strconv.Itoa(level.next) + "."
		level.next++
	}

	x := r.indent() - 4
	r.pdf.SetX(x)
	r.pdf.CellFormat(4, lineHeight, marker, "", 0, "L", false, 0, "")
	r.pdf.SetLeftMargin(r.indent())
	r.pdf.SetX(r.indent())
}

func (r *reportRenderer) codeBlock(lines *text.Segments) {
	r.pdf.Ln(1)
	r.pdf.SetFont("Courier", "", 9)
	r.pdf.SetFillColor(244, 244, 244)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		content := strings.TrimRight(string(line.Value(r.source)), "\n")
		r.pdf.SetX(r.indent())
		r.pdf.MultiCell(contentWidth-(r.indent()-pageMargin), 4.5, r.tr(content), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.applyFont()
	r.pdf.Ln(2)
}

// table draws rows with widths proportional to the widest cell of each column
func (r *reportRenderer) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		var row []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			row = append(row, r.tr(strings.TrimSpace(string(cell.Text(r.source)))))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	const size = 8.5
	const rowLine = 4.5
	cols := len(rows[0])

	r.pdf.SetFont(bodyFont, "B", size)
	widths := make([]float64, cols)
	total := 0.0
	for _, row := range rows {
		for i := 0; i < cols && i < len(row); i++ {
			if w := r.pdf.GetStringWidth(row[i]) + 4; w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		if widths[i] < 15 {
			widths[i] = 15
		}
		total += widths[i]
	}
	scale := contentWidth / total
	for i := range widths {
		widths[i] *= scale
	}

	r.pdf.SetLeftMargin(pageMargin)
	r.pdf.Ln(2)
	_, pageHeight := r.pdf.GetPageSize()

	for rowIdx, row := range rows {
		header := rowIdx == 0
		if header {
			r.pdf.SetFont(bodyFont, "B", size)
			r.pdf.SetFillColor(225, 232, 245)
		} else {
			r.pdf.SetFont(bodyFont, "", size)
		}

		lines := 1
		for i := 0; i < cols && i < len(row); i++ {
			if n := len(r.pdf.SplitText(row[i], widths[i]-2)); n > lines {
				lines = n
			}
		}
		height := float64(lines)*rowLine + 2

		y := r.pdf.GetY()
		if y+height > pageHeight-pageMargin {
			r.pdf.AddPage()
			y = r.pdf.GetY()
		}

		x := pageMargin
		for i := 0; i < cols; i++ {
			style := "D"
			if header {
				style = "FD"
			}
			r.pdf.Rect(x, y, widths[i], height, style)
			if i < len(row) {
				for j, line := range r.pdf.SplitText(row[i], widths[i]-2) {
					r.pdf.SetXY(x+1, y+1+float64(j)*rowLine)
					r.pdf.CellFormat(widths[i]-2, rowLine, line, "", 0, "L", false, 0, "")
				}
			}
			x += widths[i]
		}
		r.pdf.SetXY(pageMargin, y+height)
	}

	r.pdf.SetFillColor(255, 255, 255)
	r.pdf.Ln(3)
	r.applyFont()
}
