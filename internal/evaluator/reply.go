package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Defaults applied to fields the model left out.
const (
	defaultAnalysis  = "No analysis provided"
	defaultScore     = 50.0
	defaultReasoning = "No reasoning provided"
)

var errMalformed = errors.New("malformed reply")

const replySchemaURL = "https://cardpay.local/schemas/evaluator-reply.schema.json"

const replySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "analysis": {"type": "string"},
    "score": {"type": "number", "minimum": 0, "maximum": 100},
    "recommendation": {"enum": ["approve", "reject", "review"]},
    "reasoning": {"type": "string"}
  }
}`

var replySchema = mustCompileReplySchema()

func mustCompileReplySchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(replySchemaURL, strings.NewReader(replySchemaJSON)); err != nil {
		panic(fmt.Sprintf("evaluator: load reply schema: %v", err))
	}
	s, err := c.Compile(replySchemaURL)
	if err != nil {
		panic(fmt.Sprintf("evaluator: compile reply schema: %v", err))
	}
	return s
}

// parseReply turns a raw model reply into an opinion for role. Any reply
// that is not a JSON object, or whose fields have the wrong type or range,
// is reported as errMalformed.
func parseReply(role, raw string) (domain.EvaluatorOpinion, error) {
	text := stripFences(raw)
	if text == "" {
		return domain.EvaluatorOpinion{}, fmt.Errorf("%w: empty reply", errMalformed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return domain.EvaluatorOpinion{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return domain.EvaluatorOpinion{}, fmt.Errorf("%w: reply is not a JSON object", errMalformed)
	}

	// null and blank values count as missing.
	for k, v := range fields {
		switch tv := v.(type) {
		case nil:
			delete(fields, k)
		case string:
			if strings.TrimSpace(tv) == "" {
				delete(fields, k)
			}
		}
	}
	if rec, ok := fields["recommendation"].(string); ok {
		fields["recommendation"] = strings.ToLower(strings.TrimSpace(rec))
	}

	if err := replySchema.Validate(fields); err != nil {
		return domain.EvaluatorOpinion{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	op := domain.EvaluatorOpinion{
		Role:           role,
		Analysis:       defaultAnalysis,
		Score:          defaultScore,
		Recommendation: domain.RecommendReview,
		Reasoning:      defaultReasoning,
	}
	if v, ok := fields["analysis"].(string); ok {
		op.Analysis = v
	}
	if v, ok := fields["score"].(float64); ok {
		op.Score = v
	}
	if v, ok := fields["recommendation"].(string); ok {
		op.Recommendation, _ = domain.ParseRecommendation(v)
	}
	if v, ok := fields["reasoning"].(string); ok {
		op.Reasoning = v
	}
	return op, nil
}

// stripFences removes a surrounding markdown code fence and any chatter
// outside the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
