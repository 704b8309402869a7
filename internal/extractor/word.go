package extractor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"
)

var zipMagic = []byte("PK\x03\x04")

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()
	return documentXMLText(r.Editable().GetContent())
}

// documentXMLText flattens WordprocessingML into text: one line per paragraph,
// tabs and breaks preserved.
func documentXMLText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// minRun is the shortest printable run kept from a legacy binary document.
const minRun = 4

// extractDOC handles legacy Word files. Payloads that are really OOXML take
// the DOCX path; binary ones are decoded as Windows-1252 and reduced to their
// printable runs. NUL bytes do not break a run so UTF-16LE ASCII survives.
func extractDOC(data []byte) (string, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return extractDOCX(data)
	}
	if len(data) == 0 {
		return "", errors.New("empty document")
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode doc: %w", err)
	}

	var (
		out     strings.Builder
		run     []rune
		letters int
	)
	flush := func() {
		if len(run) >= minRun && letters*2 >= len(run) {
			out.WriteString(strings.TrimSpace(string(run)))
			out.WriteByte('\n')
		}
		run, letters = run[:0], 0
	}
	for _, r := range string(decoded) {
		switch {
		case r == 0:
		case r == '\r' || r == '\n':
			flush()
		case unicode.IsPrint(r) || r == '\t':
			run = append(run, r)
			if unicode.IsLetter(r) {
				letters++
			}
		default:
			flush()
		}
	}
	flush()

	if strings.TrimSpace(out.String()) == "" {
		return "", errors.New("no readable text in legacy document")
	}
	return out.String(), nil
}
