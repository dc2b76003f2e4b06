package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/chain"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/contextpack"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/doctrine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/engine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/llmclient"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/optionspec"
)

// InstagramCopyOptionSchema is the closed params vocabulary for
// job_type instagram_copy.
var InstagramCopyOptionSchema = &optionspec.Schema{
	Fields: map[string]optionspec.FieldSpec{
		"artist":            {Type: "string"},
		"title":             {Type: "string"},
		"tone_tags":         {Type: "array"},
		"caption_count":     {Type: "number"},
		"hashtag_count":     {Type: "number"},
		"max_caption_chars": {Type: "number"},
		"include_cta":       {Type: "boolean"},
		"include_emojis":    {Type: "boolean"},
	},
}

// NewInstagramCopyJob wires the instagram_copy job type: a single-shot
// generation of IG captions from a brief and the brand's identity/
// strategy corpus.
func NewInstagramCopyJob(gen llmclient.Generator, doctrineRoot string) *engine.JobDefinition {
	loader := doctrine.NewLoader(doctrineRoot)

	buildInputs := func(ctx context.Context, repoRoot string, br *brief.Brief, _ *chain.Snapshot) (map[string]interface{}, *doctrine.Reference, error) {
		briefMap, err := briefResolved(br)
		if err != nil {
			return nil, nil, fmt.Errorf("jobs: resolve brief: %w", err)
		}

		params, _ := briefMap["params"].(map[string]interface{})
		defaultQuery := strings.TrimSpace(paramString(params, "artist", "") + " " + paramString(params, "title", ""))
		if defaultQuery == "" {
			defaultQuery = br.Brand
		}

		contextSnapshot, err := assembleContext(repoRoot, br, []contextpack.Selector{
			{Root: "corpus", IncludeGlobs: []string{"identity/*.md", "strategy/*.md", "artifacts/*.md"}},
		}, []string{"corpus"}, defaultQuery, 50)
		if err != nil {
			return nil, nil, err
		}

		content, ref, err := loader.Load("prompts/instagram_copy", "v1.0.0", "template.md")
		if err != nil {
			return nil, nil, err
		}

		inputs := map[string]interface{}{
			"brief":        briefMap,
			"context":      contextSnapshot,
			"model_config": modelConfig("gpt-4.1-mini", 0.3),
			"doctrine": map[string]interface{}{
				"doctrine_id": ref.DoctrineID,
				"version":     ref.Version,
				"sha256":      ref.SHA256,
				"content":     content,
			},
		}
		return inputs, ref, nil
	}

	body := func(ctx context.Context, workDir string, inputs map[string]interface{}) error {
		briefMap, _ := inputs["brief"].(map[string]interface{})
		contextMap, _ := inputs["context"].(map[string]interface{})
		modelCfg, _ := inputs["model_config"].(map[string]interface{})
		doctrineMap, _ := inputs["doctrine"].(map[string]interface{})

		params, _ := briefMap["params"].(map[string]interface{})
		captionCount := paramInt(params, "caption_count", 3)
		hashtagCount := paramInt(params, "hashtag_count", 5)

		prompt := buildInstagramPrompt(briefMap, contextMap, doctrineMap, params)

		spec := llmclient.GenerationSpec{
			Provider:    asString(modelCfg["provider"]),
			Model:       asString(modelCfg["model"]),
			Temperature: asFloat(modelCfg["temperature"]),
			TopP:        asFloat(modelCfg["top_p"]),
		}

		raw, err := gen.GenerateText(ctx, prompt, spec)
		if err != nil {
			return fmt.Errorf("jobs: generate instagram copy: %w", err)
		}

		captions := parseDelimitedCaptions(raw, captionCount)
		out := renderInstagramMarkdown(briefMap, captions, hashtagCount)

		outPath := filepath.Join(workDir, "outputs", "instagram_captions.md")
		if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
			return fmt.Errorf("jobs: write instagram_captions.md: %w", err)
		}
		return nil
	}

	return &engine.JobDefinition{
		JobType:      "instagram_copy",
		OptionSchema: InstagramCopyOptionSchema,
		Chainable:    false,
		BuildInputs:  buildInputs,
		Body:         body,
	}
}

func buildInstagramPrompt(briefMap, contextMap, doctrineMap map[string]interface{}, params map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString("Brand: ")
	sb.WriteString(asString(briefMap["brand"]))
	sb.WriteString("\nArtist: ")
	sb.WriteString(paramString(params, "artist", "N/A"))
	sb.WriteString("\nTitle: ")
	sb.WriteString(paramString(params, "title", "N/A"))
	sb.WriteString("\nTone: ")
	sb.WriteString(strings.Join(paramStringSlice(params, "tone_tags"), ", "))
	sb.WriteString(fmt.Sprintf("\n\nIG Settings:\nCaptions needed: %d\nHashtags needed: %d\nMax chars: %d\nInclude CTA: %t\nInclude Emojis: %t\n\n",
		paramInt(params, "caption_count", 3),
		paramInt(params, "hashtag_count", 5),
		paramInt(params, "max_caption_chars", 2200),
		paramBool(params, "include_cta", true),
		paramBool(params, "include_emojis", true)))
	sb.WriteString("Doctrine:\n")
	sb.WriteString(asString(doctrineMap["content"]))
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(asString(contextMap["content"]))
	return sb.String()
}

// parseDelimitedCaptions splits raw generation output on "---" lines,
// enforcing exactly count captions by truncating or padding with empty
// entries.
func parseDelimitedCaptions(raw string, count int) []string {
	var captions []string
	var current []string
	flush := func() {
		cap := strings.TrimSpace(strings.Join(current, "\n"))
		if cap != "" {
			captions = append(captions, cap)
		}
		current = nil
	}
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "---") && len(current) > 0 {
			flush()
			continue
		}
		current = append(current, strings.TrimRight(line, " \t\r"))
	}
	flush()

	if len(captions) > count {
		captions = captions[:count]
	}
	for len(captions) < count {
		captions = append(captions, "")
	}
	return captions
}

func renderInstagramMarkdown(briefMap map[string]interface{}, captions []string, hashtagCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Instagram Captions (%s)\n", asString(briefMap["brand"]))
	fmt.Fprintf(&sb, "- job_id: %s\n\n", asString(briefMap["job_id"]))
	for i, c := range captions {
		fmt.Fprintf(&sb, "## Caption %d\n%s\n\n", i+1, c)
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
