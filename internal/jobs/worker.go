package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"citegraph/internal/config"
	"citegraph/internal/embeddings"
	"citegraph/internal/extract"
	"citegraph/internal/faults"
	"citegraph/internal/identity"
	"citegraph/internal/pipeline/chunker"
	"citegraph/internal/pipeline/coref"
	"citegraph/internal/pipeline/embedstage"
	"citegraph/internal/pipeline/index"
	"citegraph/internal/pipeline/linker"
	"citegraph/internal/pipeline/ner"
	"citegraph/internal/pipeline/relate"
	"citegraph/internal/provenance"
)

// stageFanout bounds parallel batch work inside one stage.
const stageFanout = 4

// Pipeline drives extract→chunk→coref→NER→link→relate→embed→index for one
// job. Every stage is pure; the indexer performs all persistence, which is
// what makes retries replay-safe.
type Pipeline struct {
	Registry     *extract.Registry
	Ingestion    config.IngestionConfig
	Linker       config.LinkerConfig
	Relations    config.RelationsConfig
	Tagger       ner.Tagger
	Embedder     embeddings.Provider
	Verifier     relate.Verifier
	Indexer      *index.Indexer
	CorefEnabled bool
}

// Run executes the pipeline and returns the document ID.
func (p *Pipeline) Run(ctx context.Context, job provenance.Job, rt *Runtime) (string, error) {
	// EXTRACT
	if err := rt.Checkpoint(ctx); err != nil {
		return "", err
	}
	var extraction provenance.Extraction
	err := p.stage(ctx, rt, "extract", func(sctx context.Context) error {
		ex, err := p.Registry.Resolve(job.URL)
		if err != nil {
			return err
		}
		if err := ex.Validate(job.URL); err != nil {
			return err
		}
		extraction, err = ex.Extract(sctx, job.URL)
		return err
	})
	if err != nil {
		return "", err
	}
	doc, err := p.describe(job.URL, extraction)
	if err != nil {
		return "", err
	}
	rt.Emit(ctx, provenance.StageExtract, 15, "extracted "+string(extraction.Kind)+" source", map[string]int{
		"bytes": len(extraction.Text),
	})

	// CHUNK
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	rt.SetPhase(ctx, provenance.JobTransforming)
	var chunks []provenance.Chunk
	err = p.stage(ctx, rt, "chunk", func(sctx context.Context) error {
		var err error
		chunks, err = chunker.Chunk(doc.DocID, extraction.Text, extraction.Locs, chunker.Options{
			ChunkSizeBytes: p.Ingestion.ChunkSizeBytes,
			OverlapBytes:   p.Ingestion.OverlapBytes,
		})
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return faults.Newf(faults.Validation, "source produced no chunks")
		}
		// The document subgraph commits here so a later cancellation leaves
		// a consistent, citable document behind.
		return p.Indexer.CommitDocument(sctx, doc, extraction.Raw, extraction.Text, extraction.Locs, chunks)
	})
	if err != nil {
		return doc.DocID, err
	}
	rt.Emit(ctx, provenance.StageChunk, 30, "chunked document", map[string]int{"chunks": len(chunks)})

	// NER runs as a pre-pass here because coreference clusters mention
	// spans; events still flow in pipeline order.
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	mentionsByChunk := make(map[string][]provenance.Mention, len(chunks))
	var skippedUnicode int
	err = p.stage(ctx, rt, "ner", func(sctx context.Context) error {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(sctx)
		g.SetLimit(stageFanout)
		for _, c := range chunks {
			c := c
			g.Go(func() error {
				res, err := ner.Extract(gctx, c, p.Tagger)
				if err != nil {
					return err
				}
				mu.Lock()
				mentionsByChunk[c.ChunkID] = res.Mentions
				skippedUnicode += res.SkippedBadUnicode
				mu.Unlock()
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return doc.DocID, err
	}

	// COREF (advisory)
	corefByChunk := make(map[string]coref.Result, len(chunks))
	if p.CorefEnabled {
		_ = p.stage(ctx, rt, "coref", func(sctx context.Context) error {
			for _, c := range chunks {
				corefByChunk[c.ChunkID] = coref.Resolve(sctx, c, mentionsByChunk[c.ChunkID])
			}
			return nil
		})
		rt.Emit(ctx, provenance.StageCoref, 40, "resolved coreference clusters", map[string]int{
			"clusters": countClusters(corefByChunk),
		})
	} else {
		rt.Emit(ctx, provenance.StageCoref, 40, "coreference disabled", nil)
	}

	totalMentions := 0
	for _, ms := range mentionsByChunk {
		totalMentions += len(ms)
	}
	nerCounters := map[string]int{"mentions": totalMentions}
	if skippedUnicode > 0 {
		nerCounters["chunks_skipped_bad_unicode"] = skippedUnicode
	}
	rt.Emit(ctx, provenance.StageNER, 55, "extracted mentions", nerCounters)

	// LINK: one graph transaction per mention batch.
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	var linkedMentions []provenance.Mention
	entitiesFound := 0
	err = p.stage(ctx, rt, "link", func(sctx context.Context) error {
		catalog := &index.GraphCatalog{Graph: p.Indexer.Graph}
		all := make([]provenance.Mention, 0, totalMentions)
		for _, c := range chunks {
			for _, m := range mentionsByChunk[c.ChunkID] {
				// A replayed ingestion finds its mentions already linked;
				// relinking would double-count the entity references.
				if _, exists := p.Indexer.Graph.GetNode(sctx, m.MentionID); exists {
					if refs, err := p.Indexer.Graph.Neighbors(sctx, m.MentionID, index.EdgeRefersTo); err == nil && len(refs) > 0 {
						m.EntityID = refs[0]
						linkedMentions = append(linkedMentions, m)
					}
					continue
				}
				all = append(all, m)
			}
		}
		batchSize := p.Linker.BatchSize
		if batchSize <= 0 {
			batchSize = 100
		}
		for start := 0; start < len(all); start += batchSize {
			if err := rt.Checkpoint(sctx); err != nil {
				return err
			}
			batch := all[start:min(start+batchSize, len(all))]
			res, err := linker.Link(sctx, batch, catalog, linker.Options{
				ExactThreshold: p.Linker.ExactThreshold,
				FuzzyThreshold: p.Linker.FuzzyThreshold,
			})
			if err != nil {
				return err
			}
			if err := p.Indexer.CommitAnnotations(sctx, doc, res, corefByChunk, nil); err != nil {
				return err
			}
			linkedMentions = append(linkedMentions, res.Mentions...)
			entitiesFound += res.Created
		}
		return nil
	})
	if err != nil {
		return doc.DocID, err
	}
	rt.Emit(ctx, provenance.StageLink, 70, "linked mentions to canonical entities", map[string]int{
		"entities_found": entitiesFound,
		"mentions":       len(linkedMentions),
	})

	// RELATE
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	linkedByChunk := make(map[string][]provenance.Mention)
	for _, m := range linkedMentions {
		linkedByChunk[m.ChunkID] = append(linkedByChunk[m.ChunkID], m)
	}
	var relations []provenance.Relation
	err = p.stage(ctx, rt, "relate", func(sctx context.Context) error {
		for _, c := range chunks {
			rels, err := relate.Extract(sctx, c, linkedByChunk[c.ChunkID], relate.Options{
				ConfidenceThreshold: p.Relations.ConfidenceThreshold,
				Verifier:            p.Verifier,
			})
			if err != nil {
				return err
			}
			relations = append(relations, rels...)
		}
		return nil
	})
	if err != nil {
		return doc.DocID, err
	}
	rt.Emit(ctx, provenance.StageRelate, 80, "extracted relations", map[string]int{"relations": len(relations)})

	// EMBED
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	err = p.stage(ctx, rt, "embed", func(sctx context.Context) error {
		_, _, err := embedstage.Embed(sctx, p.Embedder, chunks, 32)
		return err
	})
	if err != nil {
		return doc.DocID, err
	}
	rt.Emit(ctx, provenance.StageEmbed, 90, "embedded chunks", map[string]int{"chunks": len(chunks)})

	// INDEX: relations and vectors.
	if err := rt.Checkpoint(ctx); err != nil {
		return doc.DocID, err
	}
	rt.SetPhase(ctx, provenance.JobLoading)
	err = p.stage(ctx, rt, "index", func(sctx context.Context) error {
		if len(relations) > 0 {
			if err := p.Indexer.CommitAnnotations(sctx, doc, linker.Result{Entities: map[string]provenance.Entity{}}, corefByChunk, relations); err != nil {
				return err
			}
		}
		_, err := p.Indexer.CommitVectors(sctx, doc, chunks)
		return err
	})
	if err != nil {
		return doc.DocID, err
	}
	rt.Emit(ctx, provenance.StageIndex, 95, "committed to stores", map[string]int{
		"relations": len(relations),
	})

	return doc.DocID, nil
}

// stage runs fn under the stage's timeout; hitting the ceiling surfaces as a
// transient fault so the retry policy applies.
func (p *Pipeline) stage(ctx context.Context, rt *Runtime, name string, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, rt.StageTimeout(name))
	defer cancel()
	if err := fn(sctx); err != nil {
		if sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return faults.Newf(faults.Transient, "stage %s timed out", name)
		}
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return nil
}

// describe builds the document record from an extraction.
func (p *Pipeline) describe(url string, ex provenance.Extraction) (provenance.Document, error) {
	normalized, err := identity.NormalizeURL(url)
	if err != nil {
		return provenance.Document{}, faults.New(faults.Validation, err)
	}
	docID, err := identity.DocID(url)
	if err != nil {
		return provenance.Document{}, faults.New(faults.Validation, err)
	}
	score := qualityScore(ex)
	now := time.Now().UTC()
	return provenance.Document{
		IngestedAt:   now,
		DocID:        docID,
		URL:          normalized,
		Title:        ex.Metadata.Title,
		SourceKind:   ex.Kind,
		Tier:         tierFor(score),
		QualityScore: score,
		ByteLength:   len(ex.Text),
	}, nil
}

// qualityScore is a cheap content heuristic feeding the tier bucket.
func qualityScore(ex provenance.Extraction) float64 {
	score := 5.0
	switch {
	case len(ex.Text) > 20000:
		score += 2
	case len(ex.Text) > 2000:
		score += 1
	case len(ex.Text) < 300:
		score -= 2
	}
	if ex.Metadata.Title != "" {
		score += 1
	}
	if ex.Kind == provenance.SourcePDF {
		score += 1
	}
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func tierFor(score float64) provenance.Tier {
	switch {
	case score >= 8:
		return provenance.TierA
	case score >= 6:
		return provenance.TierB
	case score >= 4:
		return provenance.TierC
	default:
		return provenance.TierD
	}
}

func countClusters(byChunk map[string]coref.Result) int {
	seen := make(map[string]bool)
	for _, res := range byChunk {
		for _, cluster := range res.Clusters {
			seen[cluster] = true
		}
	}
	return len(seen)
}
