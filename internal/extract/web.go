package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// WebExtractor fetches HTML pages, extracts the readable article, and
// converts it to markdown so heading structure survives into the location
// map.
type WebExtractor struct {
	client   *http.Client
	maxBytes int64
}

// NewWebExtractor builds a web extractor with hardened transport defaults.
func NewWebExtractor() *WebExtractor {
	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &WebExtractor{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		maxBytes: 8 * 1000 * 1000,
	}
}

func (e *WebExtractor) Kind() provenance.SourceKind { return provenance.SourceWeb }

// Matches accepts any http(s) URL not claimed by a more specific extractor.
func (e *WebExtractor) Matches(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (e *WebExtractor) Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return faults.Newf(faults.Validation, "invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return faults.Newf(faults.Validation, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return faults.Newf(faults.Validation, "url %q has no host", raw)
	}
	return nil
}

func (e *WebExtractor) Extract(ctx context.Context, raw string) (provenance.Extraction, error) {
	if err := e.Validate(raw); err != nil {
		return provenance.Extraction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.Validation, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
		return provenance.Extraction{}, faults.Newf(faults.Transient, "fetch %s: %s", raw, resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		return provenance.Extraction{}, faults.Newf(faults.Validation, "fetch %s: %s", raw, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.Transient, err)
	}
	if int64(len(body)) > e.maxBytes {
		return provenance.Extraction{}, faults.Newf(faults.Validation, "response exceeds max bytes (%d)", e.maxBytes)
	}

	ct, cs := parseContentType(resp.Header.Get("Content-Type"))
	if !isHTML(ct) && !strings.HasPrefix(ct, "text/") && ct != "" {
		return provenance.Extraction{}, faults.Newf(faults.Validation, "unsupported content type %q", ct)
	}
	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return provenance.Extraction{}, faults.Newf(faults.DataIntegrity, "charset decode: %v", err)
	}

	var markdown, title string
	if isHTML(ct) || ct == "" {
		html := string(utf8Body)
		articleHTML := html
		if base, perr := url.Parse(resp.Request.URL.String()); perr == nil {
			if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
				articleHTML = art.Content
				title = strings.TrimSpace(art.Title)
			}
		}
		md, mdErr := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(raw)))
		if mdErr != nil {
			return provenance.Extraction{}, faults.Newf(faults.DataIntegrity, "html to markdown: %v", mdErr)
		}
		markdown = strings.TrimSpace(md)
		if title != "" && !strings.HasPrefix(markdown, "# ") {
			markdown = "# " + title + "\n\n" + markdown
		}
	} else {
		markdown = strings.TrimSpace(string(utf8Body))
	}

	if err := checkText(markdown); err != nil {
		return provenance.Extraction{}, err
	}

	locs, err := headingLocationMap(markdown)
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.DataIntegrity, err)
	}
	return provenance.Extraction{
		Raw:      body,
		Text:     markdown,
		Locs:     locs,
		Metadata: provenance.SourceMetadata{Title: title},
		Kind:     provenance.SourceWeb,
	}, nil
}

// headingLocationMap anchors byte offsets to the markdown heading path in
// effect at that offset.
func headingLocationMap(markdown string) (*provenance.LocationMap, error) {
	entries := map[int]provenance.Anchor{0: {}}
	var path []string
	offset := 0
	for _, line := range strings.SplitAfter(markdown, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if level := headingLevel(trimmed); level > 0 {
			text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if len(path) >= level {
				path = path[:level-1]
			}
			path = append(path, text)
			entries[offset] = provenance.Anchor{HeadingPath: append([]string(nil), path...)}
		}
		offset += len(line)
	}
	return provenance.NewLocationMap(entries)
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

func parseContentType(h string) (ctype, cs string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return h, ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "html")
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
