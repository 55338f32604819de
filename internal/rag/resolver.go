// Package rag answers semantic queries with citations that resolve to exact
// byte ranges of stored sources. The resolver never trusts the model: every
// citation marker is re-grounded against the stored chunk text before it is
// returned.
package rag

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"citegraph/internal/embeddings"
	"citegraph/internal/faults"
	"citegraph/internal/llm"
	"citegraph/internal/objectstore"
	"citegraph/internal/persistence/databases"
	"citegraph/internal/provenance"
)

// Citation grounds one answer claim in a byte range of a source.
type Citation struct {
	Index       int    `json:"index"`
	DocID       string `json:"doc_id"`
	DocURL      string `json:"doc_url"`
	DocTitle    string `json:"doc_title"`
	ChunkID     string `json:"chunk_id"`
	ByteRange   [2]int `json:"byte_range"`
	Page        *int   `json:"page,omitempty"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
	Quote       string `json:"quote"`
}

// Answer is the resolver output.
type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Options tune one query.
type Options struct {
	K       int
	Filters map[string]string
}

// Resolver runs retrieval, calls the generative provider, and re-threads
// citation markers back to provenance records.
type Resolver struct {
	Embedder   embeddings.Provider
	Generative llm.Provider
	Vector     databases.VectorStore
	Graph      databases.GraphDB
	Jobs       databases.JobStore
	Blobs      objectstore.ObjectStore
}

// retrievedChunk is one hit hydrated through the facade.
type retrievedChunk struct {
	chunk provenance.Chunk
	doc   provenance.Document
	score float64
}

const answerPrompt = `Answer the question using ONLY the numbered sources below. Cite every claim
with its source marker, e.g. [1]. If the sources do not contain the answer,
say so plainly.

%s
Question: %s`

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// Query answers one user query. With no retrieval hits it returns a
// well-formed "no evidence" answer; with hits, the answer carries at least
// one grounded citation or the model output is rejected.
func (r *Resolver) Query(ctx context.Context, query string, opt Options) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, faults.Newf(faults.Validation, "empty query")
	}
	k := opt.K
	if k <= 0 {
		k = 8
	}

	vecs, err := r.Embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return Answer{}, err
	}
	hits, err := r.Vector.SimilaritySearch(ctx, vecs[0], k, opt.Filters)
	if err != nil {
		return Answer{}, faults.New(faults.Transient, fmt.Errorf("vector search: %w", err))
	}
	if len(hits) == 0 {
		return Answer{Text: "No evidence found for this query in the ingested sources.", Citations: []Citation{}}, nil
	}

	retrieved := make([]retrievedChunk, 0, len(hits))
	for _, hit := range hits {
		rc, err := r.hydrate(ctx, hit)
		if err != nil {
			return Answer{}, err
		}
		retrieved = append(retrieved, rc)
	}

	if r.Generative == nil {
		return Answer{}, faults.Newf(faults.Validation, "no generative provider configured")
	}
	var sources strings.Builder
	for i, rc := range retrieved {
		fmt.Fprintf(&sources, "[%d] %s (%s)\n%s\n\n", i+1, rc.doc.Title, rc.doc.URL, rc.chunk.Text)
	}
	text, err := r.Generative.Generate(ctx, fmt.Sprintf(answerPrompt, sources.String(), query), llm.Options{
		Temperature: 0.2,
	})
	if err != nil {
		return Answer{}, err
	}

	citations, err := r.thread(text, retrieved)
	if err != nil {
		return Answer{}, err
	}
	if len(citations) == 0 {
		return Answer{}, faults.Newf(faults.DataIntegrity, "model answer carries no groundable citation")
	}
	return Answer{Text: text, Citations: citations}, nil
}

// hydrate loads the chunk, its document row, and its location anchors for one
// vector hit.
func (r *Resolver) hydrate(ctx context.Context, hit databases.VectorResult) (retrievedChunk, error) {
	chunkID := hit.ID
	node, ok := r.Graph.GetNode(ctx, chunkID)
	if !ok {
		return retrievedChunk{}, faults.Newf(faults.DataIntegrity, "vector hit %s has no chunk node", chunkID)
	}
	docID, startOffset, err := splitChunkID(chunkID)
	if err != nil {
		return retrievedChunk{}, faults.New(faults.DataIntegrity, err)
	}
	endOffset := nodeInt(node, "end_offset")
	if endOffset <= startOffset {
		return retrievedChunk{}, faults.Newf(faults.DataIntegrity, "chunk %s has corrupt offsets", chunkID)
	}

	doc, ok, err := r.Jobs.GetDocumentMeta(ctx, docID)
	if err != nil {
		return retrievedChunk{}, faults.New(faults.Transient, err)
	}
	if !ok {
		return retrievedChunk{}, faults.Newf(faults.DataIntegrity, "chunk %s references unknown document %s", chunkID, docID)
	}

	text, err := r.chunkText(ctx, doc, startOffset, endOffset)
	if err != nil {
		return retrievedChunk{}, err
	}

	chunk := provenance.Chunk{
		ChunkID:     chunkID,
		DocID:       docID,
		StartOffset: startOffset,
		EndOffset:   endOffset,
		Text:        text,
	}
	if v, ok := node.Props["page_number"]; ok {
		page := asIntProp(v)
		chunk.PageNumber = &page
	}
	if v, ok := node.Props["timestamp_ms"]; ok {
		ts := int64(asIntProp(v))
		chunk.TimestampMS = &ts
	}
	return retrievedChunk{chunk: chunk, doc: doc, score: hit.Score}, nil
}

func (r *Resolver) chunkText(ctx context.Context, doc provenance.Document, start, end int) (string, error) {
	rc, _, err := r.Blobs.Get(ctx, objectstore.TextKey(doc.Tier, doc.DocID))
	if err != nil {
		return "", faults.New(faults.Transient, fmt.Errorf("load text blob for %s: %w", doc.DocID, err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", faults.New(faults.Transient, err)
	}
	if start < 0 || end > len(data) {
		return "", faults.Newf(faults.DataIntegrity, "chunk range [%d,%d) outside document %s of %d bytes", start, end, doc.DocID, len(data))
	}
	return string(data[start:end]), nil
}

// thread maps [n] markers in the model output to grounded citations. A
// marker outside the source list rejects the whole answer.
func (r *Resolver) thread(text string, retrieved []retrievedChunk) ([]Citation, error) {
	seen := make(map[int]bool)
	var citations []Citation
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(retrieved) {
			return nil, faults.Newf(faults.DataIntegrity, "citation marker [%s] cannot be grounded", m[1])
		}
		if seen[n] {
			continue
		}
		seen[n] = true

		rc := retrieved[n-1]
		quote, offsetInChunk := groundQuote(text, rc.chunk.Text)
		start := rc.chunk.StartOffset + offsetInChunk
		citations = append(citations, Citation{
			Index:       n,
			DocID:       rc.doc.DocID,
			DocURL:      rc.doc.URL,
			DocTitle:    rc.doc.Title,
			ChunkID:     rc.chunk.ChunkID,
			ByteRange:   [2]int{start, start + len(quote)},
			Page:        rc.chunk.PageNumber,
			TimestampMS: rc.chunk.TimestampMS,
			Quote:       quote,
		})
	}
	sort.Slice(citations, func(i, j int) bool { return citations[i].Index < citations[j].Index })
	return citations, nil
}

// groundQuote picks the exact chunk substring backing the answer: the
// longest common substring between the model text and the chunk, falling
// back to the chunk head when the overlap is too thin to be meaningful.
func groundQuote(answer, chunkText string) (string, int) {
	quote, offset := longestCommonSubstring(answer, chunkText)
	if len(quote) >= 20 {
		return quote, offset
	}
	head := chunkText
	if len(head) > 160 {
		head = head[:160]
	}
	return head, 0
}

// longestCommonSubstring returns the longest common substring and its byte
// offset in b.
func longestCommonSubstring(a, b string) (string, int) {
	if len(a) == 0 || len(b) == 0 {
		return "", 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	bestLen, bestEnd := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestEnd = j
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return b[bestEnd-bestLen : bestEnd], bestEnd - bestLen
}

func splitChunkID(chunkID string) (string, int, error) {
	i := strings.LastIndex(chunkID, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", chunkID)
	}
	start, err := strconv.Atoi(chunkID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", chunkID, err)
	}
	return chunkID[:i], start, nil
}

func nodeInt(n databases.Node, key string) int {
	if v, ok := n.Props[key]; ok {
		return asIntProp(v)
	}
	return 0
}

func asIntProp(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
