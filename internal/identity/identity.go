// Package identity derives the deterministic identifiers that bind every
// stored artifact back to its source. All functions are pure; re-running an
// ingestion with the same inputs yields the same IDs, which is what makes
// every store write an idempotent upsert.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// sessionParams are query parameters stripped during URL normalization.
// They identify a visit, not a resource.
var sessionParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"sessionid":    true,
	"session_id":   true,
	"phpsessid":    true,
	"sid":          true,
	"ref":          true,
}

// NormalizeURL canonicalizes a URL so that trivially distinct spellings of the
// same resource hash to the same document. Scheme and host are lowercased,
// percent-encoding is decoded, query parameters are sorted by key with
// session-like parameters removed, the fragment is dropped, and a trailing
// slash on the path is stripped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		vals, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return "", fmt.Errorf("parse query of %q: %w", raw, err)
		}
		keys := make([]string, 0, len(vals))
		for k := range vals {
			if sessionParams[strings.ToLower(k)] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vs := vals[k]
			sort.Strings(vs)
			for _, v := range vs {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				if v != "" {
					b.WriteByte('=')
					b.WriteString(url.QueryEscape(v))
				}
			}
		}
		u.RawQuery = b.String()
	}

	// Decode percent-encoding in the path; url.Parse already stored the
	// decoded form in u.Path, so forcing RawPath empty re-encodes minimally.
	u.RawPath = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// DocID is SHA-256 of the normalized URL, hex-encoded.
func DocID(rawURL string) (string, error) {
	norm, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:]), nil
}

// ChunkID is "<doc_id>:<start_offset>" with the offset zero-padded to ten
// decimal digits so lexical order matches byte order.
func ChunkID(docID string, startOffset int) string {
	return fmt.Sprintf("%s:%010d", docID, startOffset)
}

// MentionID hashes the chunk, the normalized surface text, and the byte
// offset of the mention inside the chunk.
func MentionID(chunkID, normalizedSurface string, startInChunk int) string {
	h := sha256.New()
	h.Write([]byte(chunkID))
	h.Write([]byte{0})
	h.Write([]byte(normalizedSurface))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", startInChunk)
	return hex.EncodeToString(h.Sum(nil))
}

// EntityID hashes the whitespace-collapsed, lowercased surface form together
// with the entity type. Mentions of the same name and type in any document
// resolve to the same candidate entity.
func EntityID(surface, entityType string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeSurface(surface)))
	h.Write([]byte{0})
	h.Write([]byte(entityType))
	return hex.EncodeToString(h.Sum(nil))
}

// RelationID hashes subject, predicate, object and the evidence chunk. Two
// identical claims backed by different evidence keep distinct IDs.
func RelationID(subjectID, predicate, objectID, evidenceChunkID string) string {
	h := sha256.New()
	for i, part := range []string{subjectID, predicate, objectID, evidenceChunkID} {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSurface lowercases and collapses runs of whitespace to one space.
func NormalizeSurface(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
