package pdf

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ReportInfo describes a generated PDF file
type ReportInfo struct {
	PageCount   int
	FileSize    int64
	IsEncrypted bool
}

// Inspect parses the PDF at path and returns its page count and size.
// It fails for files that are not well-formed PDFs.
func Inspect(path string) (*ReportInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}

	if pdfCtx.PageCount < 1 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	return &ReportInfo{
		PageCount:   pdfCtx.PageCount,
		FileSize:    stat.Size(),
		IsEncrypted: pdfCtx.Encrypt != nil,
	}, nil
}
