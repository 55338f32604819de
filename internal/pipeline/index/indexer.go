// Package index atomically commits pipeline output to the backing stores.
// The indexer is the only component that mutates persisted records; every
// write is an idempotent upsert keyed by deterministic IDs, so retried jobs
// replay harmlessly. An edge is written only in a transaction that upserts
// its endpoint nodes or after an earlier commit has written them, which is
// what keeps the graph orphan-free.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"citegraph/internal/faults"
	"citegraph/internal/objectstore"
	"citegraph/internal/persistence/databases"
	"citegraph/internal/pipeline/coref"
	"citegraph/internal/pipeline/linker"
	"citegraph/internal/provenance"
)

// Graph labels and edge names.
const (
	LabelDocument = "Document"
	LabelChunk    = "Chunk"
	LabelMention  = "Mention"
	LabelEntity   = "Entity"

	EdgePartOf    = "PART_OF"
	EdgeFoundIn   = "FOUND_IN"
	EdgeRefersTo  = "REFERS_TO"
	EdgeCorefWith = "COREF_WITH"
)

// Indexer commits staged output through the store facade.
type Indexer struct {
	Blobs  objectstore.ObjectStore
	Graph  databases.GraphDB
	Vector databases.VectorStore
	Jobs   databases.JobStore
	Cache  databases.Cache
}

// CommitDocument persists the blobs (raw source, extracted text, location
// map), the relational document row, and the Document/Chunk subgraph. Blob
// and relational writes are idempotent puts; the graph batch is one
// transaction. On re-ingestion the document row keeps its original
// ingested_at.
func (ix *Indexer) CommitDocument(ctx context.Context, doc provenance.Document, raw []byte, text string, locs *provenance.LocationMap, chunks []provenance.Chunk) error {
	if err := ix.putBlobIfAbsent(ctx, objectstore.RawKey(doc.Tier, doc.DocID), raw, "application/octet-stream"); err != nil {
		return err
	}
	if err := ix.putBlobIfAbsent(ctx, objectstore.TextKey(doc.Tier, doc.DocID), []byte(text), "text/plain; charset=utf-8"); err != nil {
		return err
	}
	locData, err := json.Marshal(locs)
	if err != nil {
		return faults.New(faults.DataIntegrity, err)
	}
	if err := ix.putBlobIfAbsent(ctx, objectstore.LocMapKey(doc.Tier, doc.DocID), locData, "application/json"); err != nil {
		return err
	}

	if _, err := ix.Jobs.UpsertDocumentMeta(ctx, doc); err != nil {
		return faults.New(faults.Transient, fmt.Errorf("upsert document row: %w", err))
	}

	err = ix.Graph.Batch(ctx, func(tx databases.GraphWriter) error {
		if err := tx.UpsertNode(ctx, doc.DocID, []string{LabelDocument}, map[string]any{
			"url":           doc.URL,
			"title":         doc.Title,
			"source_kind":   string(doc.SourceKind),
			"tier":          string(doc.Tier),
			"quality_score": doc.QualityScore,
			"byte_length":   doc.ByteLength,
		}); err != nil {
			return err
		}
		for _, c := range chunks {
			props := map[string]any{
				"doc_id":       c.DocID,
				"start_offset": c.StartOffset,
				"end_offset":   c.EndOffset,
				"token_count":  c.TokenCount,
			}
			if len(c.HeadingPath) > 0 {
				props["heading_path"] = strings.Join(c.HeadingPath, " > ")
			}
			if c.PageNumber != nil {
				props["page_number"] = *c.PageNumber
			}
			if c.TimestampMS != nil {
				props["timestamp_ms"] = *c.TimestampMS
			}
			if err := tx.UpsertNode(ctx, c.ChunkID, []string{LabelChunk}, props); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, c.ChunkID, EdgePartOf, doc.DocID, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ix.invalidate(ctx, doc.DocID)
}

// CommitAnnotations persists mentions, canonical entities, coreference
// edges, and relations in one graph transaction. Mention and entity nodes in
// the arguments are upserted in the same batch; FOUND_IN targets chunk nodes
// written by CommitDocument, and relation edges rely on entity nodes that an
// earlier link batch committed when linked.Entities does not carry them.
func (ix *Indexer) CommitAnnotations(ctx context.Context, doc provenance.Document, linked linker.Result, corefByChunk map[string]coref.Result, relations []provenance.Relation) error {
	return ix.Graph.Batch(ctx, func(tx databases.GraphWriter) error {
		for _, ent := range linked.Entities {
			if err := tx.UpsertNode(ctx, ent.EntityID, []string{LabelEntity}, map[string]any{
				"canonical_name": ent.CanonicalName,
				"entity_type":    string(ent.EntityType),
				"aliases":        ent.Aliases,
				"mention_count":  ent.MentionCount,
			}); err != nil {
				return err
			}
		}

		clusterMembers := make(map[string][]string)
		for _, m := range linked.Mentions {
			cluster := ""
			if cr, ok := corefByChunk[m.ChunkID]; ok {
				cluster = cr.Clusters[m.MentionID]
			}
			props := map[string]any{
				"surface_text":   m.SurfaceText,
				"entity_type":    string(m.EntityType),
				"start_in_chunk": m.StartInChunk,
				"end_in_chunk":   m.EndInChunk,
				"confidence":     m.Confidence,
			}
			if cluster != "" {
				props["coref_cluster_id"] = cluster
				clusterMembers[cluster] = append(clusterMembers[cluster], m.MentionID)
			}
			if err := tx.UpsertNode(ctx, m.MentionID, []string{LabelMention}, props); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, m.MentionID, EdgeFoundIn, m.ChunkID, nil); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, m.MentionID, EdgeRefersTo, m.EntityID, map[string]any{
				"confidence": m.LinkConfidence,
			}); err != nil {
				return err
			}
		}

		// Adjacent cluster members get one symmetric edge; the transitive
		// closure is derivable, not stored.
		for _, members := range clusterMembers {
			for i := 1; i < len(members); i++ {
				if err := tx.UpsertEdge(ctx, members[i-1], EdgeCorefWith, members[i], nil); err != nil {
					return err
				}
			}
		}

		for _, rel := range relations {
			if err := tx.UpsertEdge(ctx, rel.SubjectEntityID, string(rel.Predicate), rel.ObjectEntityID, map[string]any{
				"rel_id":              rel.RelID,
				"confidence":          rel.Confidence,
				"evidence_chunk_id":   rel.EvidenceChunkID,
				"evidence_byte_range": []int{rel.EvidenceRange[0], rel.EvidenceRange[1]},
				"evidence_quote":      rel.EvidenceQuote,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CommitVectors upserts chunk embeddings. Upserts are keyed by chunk_id so a
// retry after a partial failure is harmless.
func (ix *Indexer) CommitVectors(ctx context.Context, doc provenance.Document, chunks []provenance.Chunk) (int, error) {
	upserts := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		payload := map[string]string{
			"chunk_id": c.ChunkID,
			"doc_id":   c.DocID,
			"tier":     string(doc.Tier),
		}
		if len(c.HeadingPath) > 0 {
			payload["heading_path"] = strings.Join(c.HeadingPath, " > ")
		}
		if c.PageNumber != nil {
			payload["page"] = strconv.Itoa(*c.PageNumber)
		}
		if c.TimestampMS != nil {
			payload["timestamp_ms"] = strconv.FormatInt(*c.TimestampMS, 10)
		}
		if err := ix.Vector.Upsert(ctx, c.ChunkID, c.Embedding, payload); err != nil {
			return upserts, faults.New(faults.Transient, fmt.Errorf("vector upsert %s: %w", c.ChunkID, err))
		}
		upserts++
	}
	return upserts, nil
}

// SweepOrphanEntities deletes entities whose mention_count reached zero.
// Runs from a scheduled job, never during ingestion.
func (ix *Indexer) SweepOrphanEntities(ctx context.Context) (int, error) {
	nodes, err := ix.Graph.NodesByLabel(ctx, LabelEntity)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, n := range nodes {
		if asInt(n.Props["mention_count"]) > 0 {
			continue
		}
		if err := ix.Graph.DeleteNode(ctx, n.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (ix *Indexer) putBlobIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	ok, err := ix.Blobs.Exists(ctx, key)
	if err != nil {
		return faults.New(faults.Transient, fmt.Errorf("blob head %s: %w", key, err))
	}
	if ok {
		return nil
	}
	if _, err := ix.Blobs.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: contentType}); err != nil {
		return faults.New(faults.Transient, fmt.Errorf("blob put %s: %w", key, err))
	}
	return nil
}

func (ix *Indexer) invalidate(ctx context.Context, docID string) error {
	if ix.Cache == nil {
		return nil
	}
	// Best-effort; a stale cache entry expires on its TTL anyway.
	_ = ix.Cache.Delete(ctx, "doc:"+docID)
	return nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
