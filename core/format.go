package core

import (
	"path/filepath"
	"strings"
)

// Format is the source format of a document's text.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

var mediaTypes = map[Format]string{
	FormatPDF:      "application/pdf",
	FormatDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatText:     "text/plain",
	FormatMarkdown: "text/markdown",
}

// FormatFromFileName resolves a format from a file extension.
// Unknown extensions return the bare extension, which the chunker rejects.
func FormatFromFileName(name string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "markdown":
		return FormatMarkdown
	case "text":
		return FormatText
	}
	return Format(ext)
}

// MediaType returns the IANA media type for f, or application/octet-stream.
func (f Format) MediaType() string {
	if mt, ok := mediaTypes[f]; ok {
		return mt
	}
	return "application/octet-stream"
}
