package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// PDFExtractor downloads a PDF and extracts page-ordered text. The location
// map anchors every byte offset to its page number, so citations can point a
// reader at "page 2".
type PDFExtractor struct {
	client   *http.Client
	maxBytes int64
}

// NewPDFExtractor builds a PDF extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{
		client:   &http.Client{Timeout: 45 * time.Second},
		maxBytes: 64 * 1000 * 1000,
	}
}

func (e *PDFExtractor) Kind() provenance.SourceKind { return provenance.SourcePDF }

func (e *PDFExtractor) Matches(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return hasExtension(raw, ".pdf")
}

func (e *PDFExtractor) Validate(raw string) error {
	if !e.Matches(raw) {
		return faults.Newf(faults.Validation, "%q is not a fetchable pdf url", raw)
	}
	return nil
}

func (e *PDFExtractor) Extract(ctx context.Context, raw string) (provenance.Extraction, error) {
	if err := e.Validate(raw); err != nil {
		return provenance.Extraction{}, err
	}
	data, err := e.download(ctx, raw)
	if err != nil {
		return provenance.Extraction{}, err
	}

	// The pdf package wants a file; stage the download in a temp file.
	tmp, err := os.CreateTemp("", "citegraph-*.pdf")
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.Transient, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return provenance.Extraction{}, faults.New(faults.Transient, err)
	}
	tmp.Close()

	f, reader, err := pdf.Open(tmp.Name())
	if err != nil {
		return provenance.Extraction{}, faults.Newf(faults.Validation, "unreadable pdf: %v", err)
	}
	defer f.Close()

	var b strings.Builder
	entries := map[int]provenance.Anchor{0: {}}
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to extract are skipped, not fatal.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pageNum := i
		entries[b.Len()] = provenance.Anchor{PageNumber: &pageNum}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	text := strings.TrimRight(b.String(), "\n")
	if err := checkText(text); err != nil {
		return provenance.Extraction{}, err
	}
	locs, err := provenance.NewLocationMap(entries)
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.DataIntegrity, err)
	}

	title := pdfTitle(reader)
	if title == "" {
		title = pathBase(raw)
	}
	return provenance.Extraction{
		Raw:      data,
		Text:     text,
		Locs:     locs,
		Metadata: provenance.SourceMetadata{Title: title},
		Kind:     provenance.SourcePDF,
	}, nil
}

func (e *PDFExtractor) download(ctx context.Context, raw string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, faults.New(faults.Validation, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.Transient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, faults.Newf(faults.Transient, "fetch %s: %s", raw, resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		return nil, faults.Newf(faults.Validation, "fetch %s: %s", raw, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, faults.New(faults.Transient, err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, faults.Newf(faults.Validation, "pdf exceeds max bytes (%d)", e.maxBytes)
	}
	return data, nil
}

func pdfTitle(r *pdf.Reader) string {
	defer func() { _ = recover() }() // trailer access panics on some malformed documents
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	return strings.TrimSpace(info.Key("Title").Text())
}

func pathBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 {
		return raw
	}
	return parts[len(parts)-1]
}
