package extract

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// VideoExtractor transcribes audio/video sources with a local whisper model.
// Transcript segments anchor the location map at millisecond granularity so
// citations can point at a timestamp.
type VideoExtractor struct {
	modelPath string
	client    *http.Client
	maxBytes  int64
}

// NewVideoExtractor builds a video extractor. modelPath must point at a ggml
// whisper model file.
func NewVideoExtractor(modelPath string) *VideoExtractor {
	return &VideoExtractor{
		modelPath: modelPath,
		client:    &http.Client{Timeout: 5 * time.Minute},
		maxBytes:  512 * 1000 * 1000,
	}
}

func (e *VideoExtractor) Kind() provenance.SourceKind { return provenance.SourceVideo }

func (e *VideoExtractor) Matches(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return hasExtension(raw, ".wav", ".mp4", ".m4a", ".mp3", ".webm")
}

func (e *VideoExtractor) Validate(raw string) error {
	if e.modelPath == "" {
		return faults.Newf(faults.Validation, "video ingestion disabled: no whisper model configured")
	}
	if _, err := os.Stat(e.modelPath); err != nil {
		return faults.Newf(faults.Validation, "whisper model %q unavailable: %v", e.modelPath, err)
	}
	if !e.Matches(raw) {
		return faults.Newf(faults.Validation, "%q is not a fetchable media url", raw)
	}
	if !hasExtension(raw, ".wav") {
		return faults.Newf(faults.Validation, "only 16 kHz mono wav sources are supported, got %q", raw)
	}
	return nil
}

func (e *VideoExtractor) Extract(ctx context.Context, raw string) (provenance.Extraction, error) {
	if err := e.Validate(raw); err != nil {
		return provenance.Extraction{}, err
	}
	data, err := e.download(ctx, raw)
	if err != nil {
		return provenance.Extraction{}, err
	}
	samples, err := decodeWAV(data)
	if err != nil {
		return provenance.Extraction{}, faults.Newf(faults.Validation, "decode wav: %v", err)
	}

	model, err := whisper.New(e.modelPath)
	if err != nil {
		return provenance.Extraction{}, faults.Newf(faults.Transient, "load whisper model: %v", err)
	}
	defer model.Close()

	wctx, err := model.NewContext()
	if err != nil {
		return provenance.Extraction{}, faults.Newf(faults.Transient, "whisper context: %v", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return provenance.Extraction{}, faults.Newf(faults.Transient, "whisper process: %v", err)
	}

	var b strings.Builder
	entries := map[int]provenance.Anchor{0: {}}
	var durationMS int64
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		ts := segment.Start.Milliseconds()
		entries[b.Len()] = provenance.Anchor{TimestampMS: &ts}
		b.WriteString(text)
		b.WriteString("\n")
		durationMS = segment.End.Milliseconds()
	}

	text := strings.TrimRight(b.String(), "\n")
	if err := checkText(text); err != nil {
		return provenance.Extraction{}, err
	}
	locs, err := provenance.NewLocationMap(entries)
	if err != nil {
		return provenance.Extraction{}, faults.New(faults.DataIntegrity, err)
	}
	return provenance.Extraction{
		Raw:  data,
		Text: text,
		Locs: locs,
		Metadata: provenance.SourceMetadata{
			Title:      pathBase(raw),
			DurationMS: &durationMS,
		},
		Kind: provenance.SourceVideo,
	}, nil
}

func (e *VideoExtractor) download(ctx context.Context, raw string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, faults.New(faults.Validation, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.Transient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		kind := faults.Validation
		if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
			kind = faults.Transient
		}
		return nil, faults.Newf(kind, "fetch %s: %s", raw, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, faults.New(faults.Transient, err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, faults.Newf(faults.Validation, "media exceeds max bytes (%d)", e.maxBytes)
	}
	return data, nil
}

// decodeWAV reads 16 kHz mono 16-bit PCM wav data into float32 samples, the
// input format whisper expects.
func decodeWAV(data []byte) ([]float32, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	// Walk chunks to find fmt and data.
	var sampleRate uint32
	var channels, bits uint16
	var pcm []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8 : min(pos+8+size, len(data))]
		switch id {
		case "fmt ":
			if len(body) >= 16 {
				channels = binary.LittleEndian.Uint16(body[2:4])
				sampleRate = binary.LittleEndian.Uint32(body[4:8])
				bits = binary.LittleEndian.Uint16(body[14:16])
			}
		case "data":
			pcm = body
		}
		pos += 8 + size
		if size%2 == 1 {
			pos++
		}
	}
	if pcm == nil {
		return nil, fmt.Errorf("no data chunk")
	}
	if channels != 1 || bits != 16 || sampleRate != whisper.SampleRate {
		return nil, fmt.Errorf("expected %d Hz mono 16-bit pcm, got %d Hz %d-channel %d-bit",
			whisper.SampleRate, sampleRate, channels, bits)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples, nil
}
