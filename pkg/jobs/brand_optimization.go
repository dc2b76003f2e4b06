package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/chain"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/contextpack"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/doctrine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/engine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/llmclient"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/optionspec"
)

// BrandOptimizationRequiredOutputs names the upstream artifacts this
// chain edge requires from a brand_compliance_score run.
var BrandOptimizationRequiredOutputs = []string{"compliance_scores.json"}

// BrandOptimizationOptionSchema is the closed params vocabulary for
// job_type brand_optimization.
var BrandOptimizationOptionSchema = &optionspec.Schema{
	Fields: map[string]optionspec.FieldSpec{
		"optimization_focus": {Type: "string"},
		"max_recommendations": {Type: "number"},
	},
}

// NewBrandOptimizationJob wires the chainable brand_optimization job
// type: it consumes a prior brand_compliance_score run's scored output
// and proposes revisions.
func NewBrandOptimizationJob(gen llmclient.Generator) *engine.JobDefinition {
	buildInputs := func(ctx context.Context, repoRoot string, br *brief.Brief, prior *chain.Snapshot) (map[string]interface{}, *doctrine.Reference, error) {
		briefMap, err := briefResolved(br)
		if err != nil {
			return nil, nil, fmt.Errorf("jobs: resolve brief: %w", err)
		}

		params, _ := briefMap["params"].(map[string]interface{})
		contextSnapshot, err := assembleContext(repoRoot, br, []contextpack.Selector{
			{Root: "corpus", IncludeGlobs: []string{"identity/*.md", "strategy/*.md"}},
		}, []string{"corpus"}, paramString(params, "optimization_focus", ""), 50)
		if err != nil {
			return nil, nil, err
		}

		contextObj := map[string]interface{}{}
		for k, v := range contextSnapshot {
			contextObj[k] = v
		}
		contextObj["job_id"] = br.JobID
		contextObj["job_type"] = br.JobType
		if prior != nil {
			priorOutputs := filepath.ToSlash(filepath.Join("artifacts", prior.PriorJobID, prior.PriorRunID, "outputs"))
			if glob, err := contextpack.AssembleGlob(repoRoot, []contextpack.Selector{
				{Root: priorOutputs, IncludeGlobs: []string{"compliance_scores.json"}},
			}, 1); err == nil {
				contextObj["prior_compliance_scores"] = glob.Content
			}
		}

		priorArtifact := map[string]interface{}{}
		if prior != nil {
			priorArtifact["prior_run_id"] = prior.PriorRunID
			priorArtifact["prior_stage"] = prior.PriorStage
			priorArtifact["prior_job_id"] = prior.PriorJobID
			priorArtifact["prior_manifest"] = map[string]interface{}{
				"job_id":      prior.PriorManifest.JobID,
				"run_id":      prior.PriorManifest.RunID,
				"job_type":    prior.PriorManifest.JobType,
				"inputs_hash": prior.PriorManifest.InputsHash,
			}
			priorArtifact["required_outputs"] = prior.RequiredOutputs
			priorArtifact["prior_output_hashes"] = prior.PriorOutputHashes
		}

		inputs := map[string]interface{}{
			"brief":        briefMap,
			"context":      contextObj,
			"model_config": modelConfig("gpt-4.1-mini", 0.4),
			// brand_optimization carries no versioned prompt doctrine: the
			// optimization pass runs off the prior run's scored
			// output alone, so this snapshot is a static placeholder rather
			// than a doctrine.Loader resolution.
			"doctrine":       "{}",
			"prior_artifact": priorArtifact,
		}
		return inputs, nil, nil
	}

	body := func(ctx context.Context, workDir string, inputs map[string]interface{}) error {
		contextMap, _ := inputs["context"].(map[string]interface{})
		modelCfg, _ := inputs["model_config"].(map[string]interface{})
		priorArtifact, _ := inputs["prior_artifact"].(map[string]interface{})

		priorScores := asString(contextMap["prior_compliance_scores"])
		if priorScores == "" {
			priorScores = "{}"
		}

		prompt := fmt.Sprintf(
			"Prior compliance scores:\n%s\n\nPropose concrete revisions that raise the lowest-scoring dimensions while preserving brand voice.",
			priorScores,
		)

		spec := llmclient.GenerationSpec{
			Provider:    asString(modelCfg["provider"]),
			Model:       asString(modelCfg["model"]),
			Temperature: asFloat(modelCfg["temperature"]),
			TopP:        asFloat(modelCfg["top_p"]),
		}

		raw, err := gen.GenerateText(ctx, prompt, spec)
		if err != nil {
			return fmt.Errorf("jobs: generate optimization recommendations: %w", err)
		}

		result := map[string]interface{}{
			"prior_run_id":    priorArtifact["prior_run_id"],
			"recommendations": raw,
		}
		out, err := canonicalize.MarshalIndented(result)
		if err != nil {
			return fmt.Errorf("jobs: marshal optimization.json: %w", err)
		}

		outPath := filepath.Join(workDir, "outputs", "optimization.json")
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return fmt.Errorf("jobs: write optimization.json: %w", err)
		}
		return nil
	}

	return &engine.JobDefinition{
		JobType:                 "brand_optimization",
		OptionSchema:            BrandOptimizationOptionSchema,
		Chainable:               true,
		ExpectedUpstreamJobType: "brand_compliance_score",
		BuildInputs:             buildInputs,
		Body:                    body,
	}
}
