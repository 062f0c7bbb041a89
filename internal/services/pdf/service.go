// -----------------------------------------------------------------------
// PDF Service - report markdown rendering and report file artifacts
// -----------------------------------------------------------------------

package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/dossier/internal/interfaces"
)

var (
	// ErrEmptyReport is returned when there is no markdown to render
	ErrEmptyReport = errors.New("report content is empty")

	// ErrInvalidFilename is returned for names that would escape the reports directory
	ErrInvalidFilename = errors.New("invalid report filename")

	// ErrReportNotFound is returned when a generated report file does not exist
	ErrReportNotFound = fmt.Errorf("report file %w", interfaces.ErrNotFound)
)

// Service implements interfaces.PDFService
type Service struct {
	reportsDir string
	now        func() time.Time
	logger     arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PDFService = (*Service)(nil)

// NewService creates a PDF service writing report files under reportsDir
func NewService(reportsDir string, logger arbor.ILogger) *Service {
	if reportsDir == "" {
		reportsDir = "reports"
	}
	return &Service{
		reportsDir: reportsDir,
		now:        time.Now,
		logger:     logger,
	}
}

// frontmatter is the optional YAML header of a report
type frontmatter struct {
	Title   string `yaml:"title"`
	Company string `yaml:"company"`
	Author  string `yaml:"author"`
}

// ConvertMarkdownToPDF converts markdown content to a PDF byte slice.
// A YAML frontmatter block is stripped from the body and its title overrides title.
func (s *Service) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	s.logger.Debug().
		Int("markdown_len", len(markdown)).
		Str("title", title).
		Msg("Converting markdown to PDF")

	meta, body := splitFrontmatter(markdown)
	if meta.Title != "" {
		title = meta.Title
	}
	if title == "" {
		title = firstHeading(body)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin+5)
	pdf.SetTitle(title, true)
	pdf.SetCreator("dossier", true)
	if meta.Author != "" {
		pdf.SetAuthor(meta.Author, true)
	}
	pdf.AliasNbPages("")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(bodyFont, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("%s | Page %d/{nb}", title, pdf.PageNo())), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()
	pdf.SetFont(bodyFont, "", bodySize)

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	source := []byte(body)
	doc := md.Parser().Parse(text.NewReader(source))

	if err := newReportRenderer(pdf, source).render(doc); err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate PDF")
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate PDF output")
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().Int("pdf_size", buf.Len()).Msg("PDF generated successfully")
	return buf.Bytes(), nil
}

// GenerateReportPDF renders markdown into the reports directory and returns the file name
func (s *Service) GenerateReportPDF(markdown, companyName string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", ErrEmptyReport
	}

	meta, _ := splitFrontmatter(markdown)
	if companyName == "" {
		companyName = meta.Company
	}

	title := "Research Report"
	if companyName != "" {
		title = companyName + " Research Report"
	}

	data, err := s.ConvertMarkdownToPDF(markdown, title)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := reportFilename(companyName, s.now())
	path := filepath.Join(s.reportsDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", filename, err)
	}

	info, err := Inspect(path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("generated report failed validation: %w", err)
	}

	s.logger.Info().
		Str("filename", filename).
		Str("company", companyName).
		Int("pages", info.PageCount).
		Int64("size", info.FileSize).
		Msg("Report PDF generated")

	return filename, nil
}

// ReportPath resolves a generated file name to its path inside the reports directory
func (s *Service) ReportPath(filename string) (string, error) {
	if filename == "" ||
		filename != filepath.Base(filename) ||
		strings.ContainsAny(filename, `/\`) ||
		strings.HasPrefix(filename, ".") ||
		!strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	path := filepath.Join(s.reportsDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrReportNotFound
		}
		return "", fmt.Errorf("failed to stat report %s: %w", filename, err)
	}
	if info.IsDir() {
		return "", ErrReportNotFound
	}
	return path, nil
}

var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

// reportFilename builds "<company>_research_report_<timestamp>.pdf" from safe characters only
func reportFilename(companyName string, at time.Time) string {
	slug := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(companyName), "_"), "_")
	if slug == "" {
		slug = "company"
	}
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "_")
	}
	return fmt.Sprintf("%s_research_report_%s.pdf", slug, at.UTC().Format("20060102_150405"))
}

// splitFrontmatter separates a leading YAML block delimited by "---" lines from the body.
// Invalid YAML leaves the markdown untouched.
func splitFrontmatter(markdown string) (frontmatter, string) {
	var meta frontmatter
	if !strings.HasPrefix(markdown, "---\n") {
		return meta, markdown
	}

	endIdx := strings.Index(markdown[4:], "\n---\n")
	if endIdx == -1 {
		return meta, markdown
	}

	if err := yaml.Unmarshal([]byte(markdown[4:4+endIdx]), &meta); err != nil {
		return frontmatter{}, markdown
	}
	return meta, strings.TrimSpace(markdown[4+endIdx+5:])
}

// firstHeading returns the text of the first level-one heading
func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}
