// Package coref assigns coreference clusters to mentions inside a chunk.
// The resolver is advisory: when it is disabled or fails, downstream stages
// proceed with empty cluster IDs and the pipeline still succeeds.
package coref

import (
	"context"
	"regexp"
	"strings"

	"citegraph/internal/identity"
	"citegraph/internal/provenance"
)

// pronounTargets maps anaphora to the entity types they can refer to.
var pronounTargets = map[string][]provenance.EntityType{
	"he":   {provenance.TypePerson},
	"him":  {provenance.TypePerson},
	"his":  {provenance.TypePerson},
	"she":  {provenance.TypePerson},
	"her":  {provenance.TypePerson},
	"it":   {provenance.TypeOrg, provenance.TypeProduct, provenance.TypeTech},
	"its":  {provenance.TypeOrg, provenance.TypeProduct, provenance.TypeTech},
	"they": {provenance.TypeOrg, provenance.TypePerson},
	"them": {provenance.TypeOrg, provenance.TypePerson},
}

var pronounRe = regexp.MustCompile(`(?i)\b(he|him|his|she|her|it|its|they|them)\b`)

// Link is a resolved anaphor: the pronoun's byte span and the mention it
// refers to.
type Link struct {
	Start     int
	End       int
	MentionID string
}

// Result carries cluster assignments and pronoun links for one chunk.
type Result struct {
	// Clusters maps mention_id → coref_cluster_id.
	Clusters map[string]string
	// Pronouns are resolved anaphora, usable as additional evidence.
	Pronouns []Link
}

// Resolve clusters mentions that share a normalized surface and attaches
// pronouns to the nearest preceding compatible mention. Cluster IDs are
// deterministic: the hash of the chunk and the cluster's first surface.
func Resolve(_ context.Context, chunk provenance.Chunk, mentions []provenance.Mention) Result {
	res := Result{Clusters: make(map[string]string, len(mentions))}
	if len(mentions) == 0 {
		return res
	}

	// Identical surfaces in one chunk corefer.
	bySurface := make(map[string]string)
	for _, m := range mentions {
		key := identity.NormalizeSurface(m.SurfaceText) + "\x00" + string(m.EntityType)
		cluster, ok := bySurface[key]
		if !ok {
			cluster = identity.MentionID(chunk.ChunkID, "cluster:"+key, 0)[:16]
			bySurface[key] = cluster
		}
		res.Clusters[m.MentionID] = cluster
	}

	// Pronouns attach to the nearest preceding mention of a compatible type.
	for _, loc := range pronounRe.FindAllStringIndex(chunk.Text, -1) {
		word := strings.ToLower(chunk.Text[loc[0]:loc[1]])
		types, ok := pronounTargets[word]
		if !ok {
			continue
		}
		var antecedent *provenance.Mention
		for i := range mentions {
			m := &mentions[i]
			if m.EndInChunk > loc[0] {
				break
			}
			for _, t := range types {
				if m.EntityType == t {
					antecedent = m
					break
				}
			}
		}
		if antecedent == nil {
			continue
		}
		res.Pronouns = append(res.Pronouns, Link{
			Start:     loc[0],
			End:       loc[1],
			MentionID: antecedent.MentionID,
		})
	}
	return res
}
