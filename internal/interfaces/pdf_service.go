package interfaces

// PDFService renders report markdown into PDF documents
type PDFService interface {
	// ConvertMarkdownToPDF converts markdown content to a PDF byte slice
	ConvertMarkdownToPDF(markdown, title string) ([]byte, error)

	// GenerateReportPDF renders markdown into the reports directory and returns the file name
	GenerateReportPDF(markdown, companyName string) (string, error)

	// ReportPath resolves a generated file name to its path, rejecting anything outside the reports directory
	ReportPath(filename string) (string, error)
}
