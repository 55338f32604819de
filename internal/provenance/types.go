// Package provenance defines the record types shared by every pipeline stage.
// Stages return transformations of these records; only the indexer persists
// them.
package provenance

import "time"

// SourceKind identifies the extractor family that produced a document.
type SourceKind string

const (
	SourceWeb   SourceKind = "web"
	SourcePDF   SourceKind = "pdf"
	SourceVideo SourceKind = "video"
	SourceOther SourceKind = "other"
)

// Tier is the quality bucket used to segregate stored content.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Document is one ingested source.
type Document struct {
	DocID        string     `json:"doc_id"`
	URL          string     `json:"url"` // normalized
	Title        string     `json:"title"`
	SourceKind   SourceKind `json:"source_kind"`
	Tier         Tier       `json:"tier"`
	QualityScore float64    `json:"quality_score"` // 0..10
	ByteLength   int        `json:"byte_length"`
	IngestedAt   time.Time  `json:"ingested_at"`
}

// Chunk is a byte-addressable substring of a document's extracted text.
// Offsets are UTF-8 byte offsets, half-open.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	DocID       string    `json:"doc_id"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Text        string    `json:"text"`
	TokenCount  int       `json:"token_count"`
	HeadingPath []string  `json:"heading_path,omitempty"`
	PageNumber  *int      `json:"page_number,omitempty"`
	TimestampMS *int64    `json:"timestamp_ms,omitempty"`
	Embedding   []float32 `json:"-"`
}

// EntityType is the closed set of mention/entity types.
type EntityType string

const (
	TypePerson  EntityType = "PERSON"
	TypeOrg     EntityType = "ORG"
	TypeGPE     EntityType = "GPE"
	TypeLaw     EntityType = "LAW"
	TypeDate    EntityType = "DATE"
	TypeProduct EntityType = "PRODUCT"
	TypeConcept EntityType = "CONCEPT"
	TypeTech    EntityType = "TECH"
	TypeOther   EntityType = "OTHER"
)

// Mention is a typed span inside a chunk.
type Mention struct {
	MentionID    string     `json:"mention_id"`
	ChunkID      string     `json:"chunk_id"`
	SurfaceText  string     `json:"surface_text"`
	EntityType   EntityType `json:"entity_type"`
	StartInChunk int        `json:"start_in_chunk"`
	EndInChunk   int        `json:"end_in_chunk"`
	Confidence   float64    `json:"confidence"`
	CorefCluster string     `json:"coref_cluster_id,omitempty"`
	// EntityID is filled by the linker.
	EntityID string `json:"entity_id,omitempty"`
	// LinkConfidence is the linker's confidence in the EntityID assignment.
	LinkConfidence float64 `json:"link_confidence,omitempty"`
}

// Entity is a canonical identity across documents.
type Entity struct {
	EntityID      string     `json:"entity_id"`
	CanonicalName string     `json:"canonical_name"`
	EntityType    EntityType `json:"entity_type"`
	Aliases       []string   `json:"aliases,omitempty"`
	MentionCount  int        `json:"mention_count"`
	ContextVector []float32  `json:"-"`
}

// Predicate is the closed set of relation labels.
type Predicate string

const (
	PredEmployedBy Predicate = "EMPLOYED_BY"
	PredFounded    Predicate = "FOUNDED"
	PredCites      Predicate = "CITES"
	PredLocatedIn  Predicate = "LOCATED_IN"
	PredPartOf     Predicate = "PART_OF"
	PredAuthoredBy Predicate = "AUTHORED_BY"
	PredOther      Predicate = "OTHER"
)

// Relation is a typed, directed, evidence-backed edge between two entities.
type Relation struct {
	RelID           string    `json:"rel_id"`
	SubjectEntityID string    `json:"subject_entity_id"`
	Predicate       Predicate `json:"predicate"`
	ObjectEntityID  string    `json:"object_entity_id"`
	Confidence      float64   `json:"confidence"`
	EvidenceChunkID string    `json:"evidence_chunk_id"`
	EvidenceRange   [2]int    `json:"evidence_byte_range"`
	EvidenceQuote   string    `json:"evidence_quote"`
}

// SourceMetadata is what an extractor learned about the source itself.
type SourceMetadata struct {
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	DurationMS      *int64     `json:"duration_ms,omitempty"`
}

// Extraction bundles an extractor's full output for one source.
type Extraction struct {
	Raw      []byte
	Text     string
	Locs     *LocationMap
	Metadata SourceMetadata
	Kind     SourceKind
}
