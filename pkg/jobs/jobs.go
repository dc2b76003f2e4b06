// Package jobs registers the engine's job types: instagram_copy,
// brand_compliance_score, and the chainable brand_optimization. Each
// definition's BuildInputs assembles that job type's closed input
// snapshot vocabulary; each Body calls the opaque LLM generator and
// writes outputs/.
package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/contextpack"
)

// modelConfig returns the deterministic model-selection snapshot shared by
// every job type, sourced from LLM_* environment variables.
func modelConfig(defaultModel string, defaultTemperature float64) map[string]interface{} {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = defaultModel
	}
	temperature := defaultTemperature
	if raw := os.Getenv("LLM_TEMPERATURE"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			temperature = parsed
		}
	}
	topP := 1.0
	if raw := os.Getenv("LLM_TOP_P"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			topP = parsed
		}
	}

	return map[string]interface{}{
		"provider":        provider,
		"model":           model,
		"temperature":     temperature,
		"top_p":           topP,
		"max_tokens":      2000,
		"response_format": "json",
	}
}

// briefResolved returns br's fields as a plain map with brief_hash and
// repo_commit stripped: governance fields only, no volatile/derived
// fields participate in the snapshot that feeds inputs_hash.
func briefResolved(br *brief.Brief) (map[string]interface{}, error) {
	data, err := json.Marshal(br)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "brief_hash")
	delete(m, "repo_commit")
	return m, nil
}

func param(params map[string]interface{}, key string, fallback interface{}) interface{} {
	if params == nil {
		return fallback
	}
	if v, ok := params[key]; ok {
		return v
	}
	return fallback
}

func paramInt(params map[string]interface{}, key string, fallback int) int {
	v := param(params, key, fallback)
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i)
		}
	}
	return fallback
}

func paramBool(params map[string]interface{}, key string, fallback bool) bool {
	v := param(params, key, fallback)
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func paramString(params map[string]interface{}, key string, fallback string) string {
	v := param(params, key, fallback)
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

// assembleContext builds the context snapshot for a job, honoring the
// strategy the brief selects: "glob" (the
// default; ordered file concatenation over defaultSelectors unless the
// brief supplies its own) or "retrieve" (deterministic BM25 keyword
// retrieval, seeded by defaultQuery/defaultRoots unless the brief
// overrides them). The returned map is the authoritative context
// snapshot: for "retrieve" it carries query/retrieval_config/
// selected_items verbatim as the audit record, plus a convenience
// "content" field job bodies use to build their prompt. All recorded
// paths and roots are repo-relative, anchored at repoRoot.
func assembleContext(repoRoot string, br *brief.Brief, defaultSelectors []contextpack.Selector, defaultRoots []string, defaultQuery string, maxFiles int) (map[string]interface{}, error) {
	spec := br.ContextSpec
	strategy := "glob"
	if spec != nil && spec.Strategy != "" {
		strategy = spec.Strategy
	}

	if strategy == "retrieve" {
		query := defaultQuery
		roots := defaultRoots
		includeGlobs := []string{"*.md"}
		topK := 10
		if spec != nil {
			if spec.Query != "" {
				query = spec.Query
			}
			if len(spec.Roots) > 0 {
				roots = spec.Roots
			}
			if len(spec.IncludeGlobs) > 0 {
				includeGlobs = spec.IncludeGlobs
			}
			if spec.TopK > 0 {
				topK = spec.TopK
			}
		}
		mf := maxFiles
		if spec != nil && spec.MaxFiles > 0 {
			mf = spec.MaxFiles
		}
		var excludeGlobs []string
		if spec != nil {
			excludeGlobs = spec.ExcludeGlobs
		}

		items, cfg, err := contextpack.Retrieve(contextpack.RetrievalInput{
			RepoRoot:     repoRoot,
			Query:        query,
			TopK:         topK,
			Roots:        roots,
			IncludeGlobs: includeGlobs,
			ExcludeGlobs: excludeGlobs,
			MaxFiles:     mf,
		})
		if err != nil {
			return nil, fmt.Errorf("jobs: retrieve context: %w", err)
		}

		var sb strings.Builder
		for i, item := range items {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("# FILE: ")
			sb.WriteString(item.Path)
			sb.WriteString("\n")
			if data, rerr := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(item.Path))); rerr == nil {
				sb.Write(data)
				if len(data) == 0 || data[len(data)-1] != '\n' {
					sb.WriteString("\n")
				}
			}
		}

		return map[string]interface{}{
			"strategy":         "retrieve",
			"query":            query,
			"retrieval_config": cfg,
			"selected_items":   items,
			"content":          sb.String(),
		}, nil
	}

	selectors := defaultSelectors
	if spec != nil && len(spec.Selectors) > 0 {
		selectors = spec.Selectors
	}
	glob, err := contextpack.AssembleGlob(repoRoot, selectors, maxFiles)
	if err != nil {
		return nil, fmt.Errorf("jobs: assemble context: %w", err)
	}
	return map[string]interface{}{
		"strategy":     "glob",
		"selectors":    selectors,
		"content":      glob.Content,
		"content_hash": glob.ContentHash,
		"files":        glob.Files,
	}, nil
}

func paramStringSlice(params map[string]interface{}, key string) []string {
	v := param(params, key, nil)
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
