package config

// RetrievalConfig controls the hybrid retrieval ranker.
type RetrievalConfig struct {
	// TopK is the number of matches returned to the answer pipeline.
	TopK int `mapstructure:"top_k" json:"top_k"`
	// MinSimilarity filters vector matches below this cosine similarity.
	MinSimilarity float64 `mapstructure:"min_similarity" json:"min_similarity"`
	// Hybrid enables the lexical query alongside the vector query.
	// Lexical failures degrade to vector-only, they never fail a search.
	Hybrid bool `mapstructure:"hybrid" json:"hybrid"`
}

// CitationConfig controls how source links are derived for cited chunks.
//
// A chunk at docs/guide/setup.md resolves to:
//   - repository link: https://github.com/<owner>/<repo>/blob/<branch>/<path_prefix>/docs/guide/setup.md
//   - docs-site link:  <docs_base_url>/guide/setup (content_root prefix and
//     extension stripped, trailing "index" segment collapsed)
//
// Empty RepoOwner/RepoName disables repository links; empty DocsBaseURL
// disables docs-site links. With both absent the raw path is cited.
type CitationConfig struct {
	RepoOwner      string `mapstructure:"repo_owner" json:"repo_owner"`
	RepoName       string `mapstructure:"repo_name" json:"repo_name"`
	RepoBranch     string `mapstructure:"repo_branch" json:"repo_branch"`
	RepoPathPrefix string `mapstructure:"repo_path_prefix" json:"repo_path_prefix"`
	DocsBaseURL    string `mapstructure:"docs_base_url" json:"docs_base_url"`
	ContentRoot    string `mapstructure:"content_root" json:"content_root"`
}
