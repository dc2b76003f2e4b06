package contextpack

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases s and splits on any run of non [a-z0-9] characters,
// dropping empty tokens. Deterministic and locale-independent.
func tokenize(s string) []string {
	lower := strings.ToLower(s)
	parts := tokenSplit.Split(lower, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Item is one selected context item, the authoritative audit record for
// a single retrieval or glob hit.
type Item struct {
	Path   string  `json:"path"`
	SHA256 string  `json:"sha256"`
	Bytes  int64   `json:"bytes"`
	Score  float64 `json:"score,omitempty"`
}

// RetrievalConfig enumerates every parameter that affected a retrieval
// result, so the snapshot alone is sufficient to explain the output
// without re-querying the corpus.
type RetrievalConfig struct {
	Method        string   `json:"method"`
	Query         string   `json:"query"`
	TopK          int      `json:"top_k"`
	Roots         []string `json:"roots"`
	IncludeGlobs  []string `json:"include_globs"`
	ExcludeGlobs  []string `json:"exclude_globs,omitempty"`
	MaxFiles      int      `json:"max_files"`
	NumCandidates int      `json:"num_candidates"`
	Tokenization  string   `json:"tokenization"`
	Scoring       string   `json:"scoring"`
	BM25K1        float64  `json:"bm25_k1"`
	BM25B         float64  `json:"bm25_b"`
}

// RetrievalInput parameterizes a single BM25 retrieval call. Roots are
// repo-relative like Selector.Root; RepoRoot anchors them and every
// path recorded in the result.
type RetrievalInput struct {
	RepoRoot     string
	Query        string
	TopK         int
	Roots        []string
	IncludeGlobs []string
	ExcludeGlobs []string
	MaxFiles     int
}

type candidate struct {
	relPath  string
	fullPath string
	tokens   []string
	length   int
}

// Retrieve performs deterministic BM25 keyword retrieval over the corpus
// reachable under in.Roots, matching in.IncludeGlobs/ExcludeGlobs, capped
// at in.MaxFiles candidates. Returns the selected items (ordered by
// (-score, path), every path repo-relative POSIX) plus the
// RetrievalConfig describing every parameter that affected the result.
func Retrieve(in RetrievalInput) ([]Item, *RetrievalConfig, error) {
	var candidates []candidate
	seen := make(map[string]bool)

	for _, root := range in.Roots {
		matched, err := walkMatching(in.RepoRoot, Selector{Root: root, IncludeGlobs: in.IncludeGlobs, ExcludeGlobs: in.ExcludeGlobs})
		if err != nil {
			return nil, nil, err
		}
		for _, rel := range matched {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			fullPath := filepath.Join(in.RepoRoot, filepath.FromSlash(rel))
			data, err := os.ReadFile(fullPath)
			if err != nil {
				return nil, nil, err
			}
			toks := tokenize(string(data))
			candidates = append(candidates, candidate{
				relPath:  rel,
				fullPath: fullPath,
				tokens:   toks,
				length:   len(toks),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].relPath < candidates[j].relPath })
	if in.MaxFiles > 0 && len(candidates) > in.MaxFiles {
		candidates = candidates[:in.MaxFiles]
	}

	numDocs := len(candidates)
	docFreq := make(map[string]int)
	var totalLength int
	for _, c := range candidates {
		totalLength += c.length
		seenInDoc := make(map[string]bool)
		for _, t := range c.tokens {
			if !seenInDoc[t] {
				seenInDoc[t] = true
				docFreq[t]++
			}
		}
	}

	avgDocLength := 0.0
	if numDocs > 0 {
		avgDocLength = float64(totalLength) / float64(numDocs)
	}

	queryTokens := tokenize(in.Query)

	type scored struct {
		c     candidate
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, scored{c: c, score: bm25Score(queryTokens, c.tokens, docFreq, numDocs, avgDocLength)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].c.relPath < results[j].c.relPath
	})

	topK := in.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	results = results[:topK]

	items := make([]Item, 0, len(results))
	for _, r := range results {
		data, err := os.ReadFile(r.c.fullPath)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, Item{
			Path:   r.c.relPath,
			SHA256: "sha256:" + canonicalize.HashBytes(data),
			Bytes:  int64(len(data)),
			Score:  r.score,
		})
	}

	recordedRoots := make([]string, 0, len(in.Roots))
	for _, root := range in.Roots {
		recordedRoots = append(recordedRoots, relativizeRoot(in.RepoRoot, root))
	}

	cfg := &RetrievalConfig{
		Method:        "retrieve",
		Query:         in.Query,
		TopK:          in.TopK,
		Roots:         recordedRoots,
		IncludeGlobs:  in.IncludeGlobs,
		ExcludeGlobs:  in.ExcludeGlobs,
		MaxFiles:      in.MaxFiles,
		NumCandidates: numDocs,
		Tokenization:  "lowercase+split_non_alnum",
		Scoring:       "bm25",
		BM25K1:        bm25K1,
		BM25B:         bm25B,
	}

	return items, cfg, nil
}

// bm25Score computes the BM25 relevance of docTokens against queryTokens
// using corpus-wide docFreq/numDocs/avgDocLength, with fixed k1=1.5, b=0.75.
func bm25Score(queryTokens, docTokens []string, docFreq map[string]int, numDocs int, avgDocLength float64) float64 {
	if numDocs == 0 || len(docTokens) == 0 {
		return 0
	}

	termFreq := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		termFreq[t]++
	}

	docLength := float64(len(docTokens))
	var score float64

	// Each unique query term contributes once, regardless of how many
	// times it appears in the query.
	seen := make(map[string]bool, len(queryTokens))
	for _, qt := range queryTokens {
		if seen[qt] {
			continue
		}
		seen[qt] = true
		tf, ok := termFreq[qt]
		if !ok {
			continue
		}
		df := docFreq[qt]
		idf := math.Log((float64(numDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
		normTF := float64(tf) / (float64(tf) + bm25K1*(1-bm25B+bm25B*docLength/avgDocLength))
		score += idf * normTF
	}

	return score
}
