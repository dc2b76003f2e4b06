package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/chain"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/contextpack"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/doctrine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/engine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/llmclient"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/optionspec"
)

// BrandComplianceScoreOptionSchema is the closed params vocabulary for
// job_type brand_compliance_score.
var BrandComplianceScoreOptionSchema = &optionspec.Schema{
	Fields: map[string]optionspec.FieldSpec{
		"content":              {Type: "object", Required: true},
		"brand_identity_scope": {Type: "string"},
		"evaluation_focus":     {Type: "string"},
	},
}

// complianceResponseSchema is the closed shape the scoring model's JSON
// response must satisfy before it is written to compliance_scores.json.
// Extra fields are tolerated (the model may add commentary dimensions)
// but the scored core is required.
var complianceResponseSchema = &optionspec.Schema{
	AllowExtra: true,
	Fields: map[string]optionspec.FieldSpec{
		"overall_score": {Type: "number", Required: true},
		"dimensions":    {Type: "object", Required: true},
		"rationale":     {Type: "string"},
	},
}

// NewBrandComplianceScoreJob wires the brand_compliance_score job type:
// scores a piece of content against brand identity/strategy doctrine.
func NewBrandComplianceScoreJob(gen llmclient.Generator, doctrineRoot string) *engine.JobDefinition {
	loader := doctrine.NewLoader(doctrineRoot)

	buildInputs := func(ctx context.Context, repoRoot string, br *brief.Brief, _ *chain.Snapshot) (map[string]interface{}, *doctrine.Reference, error) {
		briefMap, err := briefResolved(br)
		if err != nil {
			return nil, nil, fmt.Errorf("jobs: resolve brief: %w", err)
		}
		params, _ := briefMap["params"].(map[string]interface{})

		corpusRoot := filepath.Join(repoRoot, "corpus")
		scope := paramString(params, "brand_identity_scope", "brand_voice+positioning")

		brandIdentityFiles := map[string]interface{}{}
		if strings.Contains(scope, "brand_voice") {
			if text, ok := readIfExists(filepath.Join(corpusRoot, "identity", "Brand_Voice.md")); ok {
				brandIdentityFiles["brand_voice"] = text
			}
		}
		if strings.Contains(scope, "positioning") {
			if text, ok := readIfExists(filepath.Join(corpusRoot, "strategy", "Positioning.md")); ok {
				brandIdentityFiles["positioning"] = text
			}
		}

		contextSnapshot, err := assembleContext(repoRoot, br, []contextpack.Selector{
			{Root: "corpus", IncludeGlobs: []string{"identity/*.md", "strategy/*.md"}},
		}, []string{"corpus"}, scope, 50)
		if err != nil {
			return nil, nil, err
		}

		contextObj := map[string]interface{}{}
		for k, v := range contextSnapshot {
			contextObj[k] = v
		}
		contextObj["job_id"] = br.JobID
		contextObj["job_type"] = br.JobType
		contextObj["brand_identity_scope"] = scope
		contextObj["brand_identity_files"] = brandIdentityFiles
		contextObj["content_to_score"] = param(params, "content", map[string]interface{}{})
		contextObj["evaluation_focus"] = paramString(params, "evaluation_focus", "")

		brandDoctrineRef, brandDoctrineContent, err := loadBrandGovernanceDoctrine(corpusRoot)
		if err != nil {
			return nil, nil, err
		}

		templateContent, templateRef, err := loader.Load("prompts/brand_compliance_score", "v1.0.0", "template.md")
		if err != nil {
			return nil, nil, err
		}

		inputs := map[string]interface{}{
			"brief":   briefMap,
			"context": contextObj,
			"model_config": modelConfig("gpt-4", 0),
			"doctrine": map[string]interface{}{
				"doctrine_id": brandDoctrineRef.DoctrineID,
				"version":     brandDoctrineRef.Version,
				"sha256":      brandDoctrineRef.SHA256,
				"content":     brandDoctrineContent,
			},
			"prompt_template": map[string]interface{}{
				"doctrine_id": templateRef.DoctrineID,
				"version":     templateRef.Version,
				"sha256":      templateRef.SHA256,
				"content":     templateContent,
			},
		}
		return inputs, brandDoctrineRef, nil
	}

	body := func(ctx context.Context, workDir string, inputs map[string]interface{}) error {
		contextMap, _ := inputs["context"].(map[string]interface{})
		modelCfg, _ := inputs["model_config"].(map[string]interface{})
		templateMap, _ := inputs["prompt_template"].(map[string]interface{})

		brandFiles, _ := contextMap["brand_identity_files"].(map[string]interface{})
		contentToScore, _ := contextMap["content_to_score"].(map[string]interface{})

		prompt := renderTemplate(asString(templateMap["content"]), map[string]string{
			"brand_voice":       stringOrNA(brandFiles["brand_voice"]),
			"brand_positioning": stringOrNA(brandFiles["positioning"]),
			"title":             stringOrNA(contentToScore["title"]),
			"body":              stringOrNA(contentToScore["body"]),
			"channels":          strings.Join(interfaceSliceToStrings(contentToScore["channels"]), ", "),
		})

		spec := llmclient.GenerationSpec{
			Provider:    asString(modelCfg["provider"]),
			Model:       asString(modelCfg["model"]),
			Temperature: asFloat(modelCfg["temperature"]),
			TopP:        asFloat(modelCfg["top_p"]),
		}

		raw, err := gen.GenerateText(ctx, prompt, spec)
		if err != nil {
			return fmt.Errorf("jobs: generate compliance score: %w", err)
		}

		parsed, err := parseJSONResponse(raw)
		if err != nil {
			return fmt.Errorf("jobs: parse compliance score response: %w", err)
		}
		if _, err := optionspec.ValidateAndCanonicalize(complianceResponseSchema, parsed); err != nil {
			return fmt.Errorf("jobs: compliance score response shape: %w", err)
		}

		out, err := canonicalize.MarshalIndented(parsed)
		if err != nil {
			return fmt.Errorf("jobs: marshal compliance_scores.json: %w", err)
		}

		outPath := filepath.Join(workDir, "outputs", "compliance_scores.json")
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return fmt.Errorf("jobs: write compliance_scores.json: %w", err)
		}
		return nil
	}

	return &engine.JobDefinition{
		JobType:      "brand_compliance_score",
		OptionSchema: BrandComplianceScoreOptionSchema,
		Chainable:    false,
		BuildInputs:  buildInputs,
		Body:         body,
	}
}

// loadBrandGovernanceDoctrine concatenates the brand voice/strategy
// corpus files directly, outside the allow-listed doctrine loader:
// these are raw corpus documents, not a versioned
// doctrine artifact under a single root.
func loadBrandGovernanceDoctrine(corpusRoot string) (*doctrine.Reference, string, error) {
	var parts []string
	for _, p := range []string{
		filepath.Join(corpusRoot, "identity", "Brand_Voice.md"),
		filepath.Join(corpusRoot, "strategy", "Marketing_Principles.md"),
		filepath.Join(corpusRoot, "strategy", "Positioning.md"),
	} {
		if text, ok := readIfExists(p); ok {
			parts = append(parts, text)
		}
	}
	content := strings.Join(parts, "\n\n---\n\n")

	ref := &doctrine.Reference{
		DoctrineID:   "brand_governance",
		Version:      "v1.0.0",
		SHA256:       "sha256:" + canonicalize.HashBytes([]byte(content)),
		ResolvedPath: filepath.ToSlash(filepath.Join("corpus", "strategy")),
	}
	return ref, content, nil
}

func readIfExists(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func stringOrNA(v interface{}) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "N/A"
}

func interfaceSliceToStrings(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// renderTemplate performs `{placeholder}`-style substitution against
// the scoring prompt template.
func renderTemplate(template string, values map[string]string) string {
	out := template
	for key, val := range values {
		out = strings.ReplaceAll(out, "{"+key+"}", val)
	}
	return out
}

// parseJSONResponse extracts a JSON object from raw, unwrapping a
// ```json fenced block if present.
func parseJSONResponse(raw string) (interface{}, error) {
	text := raw
	if strings.Contains(text, "```json") {
		parts := strings.SplitN(text, "```json", 2)
		text = strings.SplitN(parts[1], "```", 2)[0]
	} else if strings.Contains(text, "```") {
		parts := strings.SplitN(text, "```", 2)
		text = strings.SplitN(parts[1], "```", 2)[0]
	}
	text = strings.TrimSpace(text)

	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return v, nil
}
