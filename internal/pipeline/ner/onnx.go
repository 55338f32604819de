package ner

import (
	"context"
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"citegraph/internal/provenance"
)

// ONNXTagger runs a local token-classification model through hugot. It
// replaces the pattern tagger entirely when configured.
type ONNXTagger struct {
	session  *hugot.Session
	pipeline *pipelines.TokenClassificationPipeline
}

// NewONNXTagger loads the model at modelPath and prepares the pipeline.
func NewONNXTagger(modelPath string) (*ONNXTagger, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "mention-tagger",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	p, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create token classification pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("create token classification pipeline: %w", err)
	}
	return &ONNXTagger{session: session, pipeline: p}, nil
}

func (t *ONNXTagger) Tag(_ context.Context, text string) ([]Span, error) {
	result, err := t.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("run token classification: %w", err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}
	var spans []Span
	for _, e := range result.Entities[0] {
		word := strings.TrimSpace(e.Word)
		if word == "" {
			continue
		}
		spans = append(spans, Span{
			Start:      int(e.Start),
			End:        int(e.End),
			Type:       mapModelLabel(e.Entity),
			Confidence: float64(e.Score),
		})
	}
	return spans, nil
}

// Close releases the ONNX session.
func (t *ONNXTagger) Close() error {
	return t.session.Destroy()
}

// mapModelLabel folds BIO-prefixed model labels onto the closed entity-type
// set.
func mapModelLabel(label string) provenance.EntityType {
	l := strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(label), "B-"), "I-")
	switch l {
	case "PER", "PERSON":
		return provenance.TypePerson
	case "ORG", "ORGANIZATION", "GROUP", "BRAND":
		return provenance.TypeOrg
	case "LOC", "GPE", "LOCATION", "FACILITY", "ADDRESS":
		return provenance.TypeGPE
	case "LAW":
		return provenance.TypeLaw
	case "DATE", "TIME":
		return provenance.TypeDate
	case "PRODUCT":
		return provenance.TypeProduct
	case "TECHNOLOGY", "TECH":
		return provenance.TypeTech
	case "CONCEPT", "IDEOLOGY":
		return provenance.TypeConcept
	default:
		return provenance.TypeOther
	}
}
