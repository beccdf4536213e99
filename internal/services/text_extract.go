package services

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
)

type Page struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type ExtractResult struct {
	FullText  string `json:"full_text"`
	Pages     []Page `json:"pages"`
	PageCount int    `json:"page_count"`
}

// TextExtractor converts an uploaded file into plain text with a page
// breakdown. True file type is sniffed from magic bytes first; the declared
// mime/extension only break ties. Formats without a reliable extractor fail
// with ErrUnsupportedFormat, and results below the minimum threshold fail
// with ErrEmptyExtraction so corrupt files never pass as empty successes.
type TextExtractor interface {
	Extract(ctx context.Context, filePath string, mimeType string) (*ExtractResult, error)
}

type textExtractor struct {
	log      *logger.Logger
	minChars int
}

const DefaultMinExtractedChars = 20

func NewTextExtractor(baseLog *logger.Logger, minChars int) TextExtractor {
	if minChars <= 0 {
		minChars = DefaultMinExtractedChars
	}
	return &textExtractor{
		log:      baseLog.With("service", "TextExtractor"),
		minChars: minChars,
	}
}

func (e *textExtractor) Extract(ctx context.Context, filePath string, mimeType string) (*ExtractResult, error) {
	head, err := readHead(filePath, 512)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty file %s", apperr.ErrEmptyExtraction, filepath.Base(filePath))
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	var res *ExtractResult
	switch {
	case isPDFHeader(head):
		res, err = e.extractPDF(ctx, filePath)
	case isOLEHeader(head) || mt == "application/msword" || ext == ".doc":
		// Legacy binary .doc has no reliable extractor here; refuse loudly
		// instead of returning empty text.
		return nil, fmt.Errorf("%w: legacy doc (name=%s mime=%s)", apperr.ErrUnsupportedFormat, filepath.Base(filePath), mimeType)
	case isZipHeader(head):
		res, err = e.extractDOCX(filePath)
	case looksLikeHTML(head) || mt == "text/html" || ext == ".html" || ext == ".htm":
		res, err = extractHTMLFile(filePath)
	case isProbablyText(head) || strings.HasPrefix(mt, "text/") || ext == ".txt" || ext == ".md" || ext == ".markdown":
		res, err = extractPlainFile(filePath)
	case mt == "application/pdf" || ext == ".pdf":
		return nil, fmt.Errorf("%w: file claims pdf but missing %%PDF header (name=%s head=%s)", apperr.ErrUnsupportedFormat, filepath.Base(filePath), firstBytesHex(head, 16))
	default:
		return nil, fmt.Errorf("%w: name=%s ext=%s mime=%s head=%s", apperr.ErrUnsupportedFormat, filepath.Base(filePath), ext, mimeType, firstBytesHex(head, 16))
	}
	if err != nil {
		return nil, err
	}

	if len(res.FullText) < e.minChars {
		return nil, fmt.Errorf("%w: got %d chars, need at least %d", apperr.ErrEmptyExtraction, len(res.FullText), e.minChars)
	}
	return res, nil
}

// -------------------- PDF --------------------

// extractPDF walks pages one at a time off the open file handle so a large
// document is never held fully decoded in memory alongside the raw bytes.
func (e *textExtractor) extractPDF(ctx context.Context, filePath string) (*ExtractResult, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf reader: %v", apperr.ErrUnsupportedFormat, err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]Page, 0, total)
	var full strings.Builder
	fonts := make(map[string]*pdf.Font)

	for i := 1; i <= total; i++ {
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, perr := p.GetPlainText(fonts)
		if perr != nil {
			e.log.Warn("Skipping unreadable pdf page", "page", i, "error", perr)
			continue
		}
		text = collapseWhitespace(text)
		pages = append(pages, Page{Index: len(pages), Text: text})
		if text != "" {
			if full.Len() > 0 {
				full.WriteString("\n\n")
			}
			full.WriteString(text)
		}
	}

	return &ExtractResult{
		FullText:  full.String(),
		Pages:     pages,
		PageCount: len(pages),
	}, nil
}

// -------------------- DOCX --------------------

func (e *textExtractor) extractDOCX(filePath string) (*ExtractResult, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid zip container: %v", apperr.ErrUnsupportedFormat, err)
	}
	defer zr.Close()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: zip does not look like docx", apperr.ErrUnsupportedFormat)
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("open word/document.xml: %w", err)
	}
	defer rc.Close()

	text := collapseWhitespace(extractTextFromXML(rc, "t"))
	return &ExtractResult{
		FullText:  text,
		Pages:     []Page{{Index: 0, Text: text}},
		PageCount: 1,
	}, nil
}

// extractTextFromXML streams the decoder and gathers character data inside
// elements with the given local name (<w:t> for docx).
func extractTextFromXML(r io.Reader, local string) string {
	dec := xml.NewDecoder(r)
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		var v string
		_ = dec.DecodeElement(&v, &se)
		if v != "" {
			out.WriteString(v)
			out.WriteString(" ")
		}
	}
	return out.String()
}

// -------------------- Plaintext / HTML --------------------

func extractPlainFile(filePath string) (*ExtractResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	text := collapseWhitespace(string(data))
	return &ExtractResult{
		FullText:  text,
		Pages:     []Page{{Index: 0, Text: text}},
		PageCount: 1,
	}, nil
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func extractHTMLFile(filePath string) (*ExtractResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	s := htmlTagRe.ReplaceAllString(string(data), " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	text := collapseWhitespace(s)
	return &ExtractResult{
		FullText:  text,
		Pages:     []Page{{Index: 0, Text: text}},
		PageCount: 1,
	}, nil
}

// -------------------- Sniff helpers --------------------

func readHead(filePath string, n int) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func isPDFHeader(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZipHeader(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

// isOLEHeader detects the OLE compound-file magic used by legacy Office
// binaries (.doc, .ppt, .xls).
func isOLEHeader(b []byte) bool {
	return len(b) >= 4 && b[0] == 0xD0 && b[1] == 0xCF && b[2] == 0x11 && b[3] == 0xE0
}

func looksLikeHTML(b []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html") {
		return true
	}
	return false
}

func isProbablyText(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	good := 0
	for _, c := range b {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(b)) > 0.9
}

func firstBytesHex(b []byte, n int) string {
	if n > len(b) {
		n = len(b)
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, hexdigits[b[i]>>4], hexdigits[b[i]&0x0f])
	}
	return string(out)
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
