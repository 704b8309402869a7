// Package extractor turns uploaded PDF, DOC and DOCX payloads into plain text
// for analysis.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtractionFailure   = errors.New("text extraction failed")
)

// Separator is placed between documents when several are analysed together.
// It keeps boundaries readable for the model and carries no security meaning.
const Separator = "\n\n=== NEXT DOCUMENT ===\n\n"

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var mimeToExt = map[string]string{
	MimePDF:  "pdf",
	MimeDOC:  "doc",
	MimeDOCX: "docx",
}

// Extracted is the plain-text rendition of one document.
type Extracted struct {
	Text      string
	WordCount int
	Pages     int
}

// Extract dispatches on the normalized file type. fileType may be an
// extension ("pdf", ".DOCX") or one of the supported MIME types.
func Extract(data []byte, fileType string) (Extracted, error) {
	ext := normalizeType(fileType)

	var (
		text  string
		pages int
		err   error
	)
	switch ext {
	case "pdf":
		text, pages, err = extractPDF(data)
	case "docx":
		text, err = extractDOCX(data)
	case "doc":
		text, err = extractDOC(data)
	default:
		return Extracted{}, fmt.Errorf("%w: %s (supported: PDF, DOC, DOCX)", ErrUnsupportedFileType, fileType)
	}
	if err != nil {
		return Extracted{}, fmt.Errorf("%w: %s: %v", ErrExtractionFailure, strings.ToUpper(ext), err)
	}

	text = clean(text)
	return Extracted{Text: text, WordCount: len(strings.Fields(text)), Pages: pages}, nil
}

// Join concatenates extracted texts, keeping document boundaries visible.
func Join(texts []string) string {
	return strings.Join(texts, Separator)
}

// IsSupported reports whether the MIME type can be extracted.
func IsSupported(mime string) bool {
	_, ok := mimeToExt[baseMime(mime)]
	return ok
}

// ExtensionFor maps a supported MIME type to its extension, "unknown" otherwise.
func ExtensionFor(mime string) string {
	if ext, ok := mimeToExt[baseMime(mime)]; ok {
		return ext
	}
	return "unknown"
}

func normalizeType(fileType string) string {
	t := baseMime(fileType)
	if ext, ok := mimeToExt[t]; ok {
		return ext
	}
	return strings.TrimPrefix(t, ".")
}

// baseMime lowercases and drops MIME parameters such as "; charset=binary".
func baseMime(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

var blankRuns = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

func clean(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
