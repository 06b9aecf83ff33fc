// Package answer post-processes generated text into a final, citable
// answer.
//
// The model is asked to cite sources by bracketed 1-based index.
// Extraction is best-effort over free text: inline markers and a
// trailing "Sources:" summary are mapped back into the ranked match
// list, invalid indexes are dropped, and when nothing usable remains
// the whole ranked set is cited. Any sources block the model wrote
// itself is stripped and replaced by a canonical, de-duplicated list
// with stable links.
package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/retrieval"
)

var (
	// inlineMarkerPattern matches one bracketed 1-based source index,
	// e.g. "[2]". Bare bracketed numbers in code blocks look identical,
	// so extraction stays best-effort; out-of-range indexes are dropped
	// later.
	inlineMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

	// A sources block opens with a header line: "Sources:" with an
	// optional inline list after the colon, or a bare "Sources" /
	// "**Sources**" heading. Requiring the colon or a bare heading keeps
	// prose like "Sources of error include..." out.
	sourcesColonHeaderPattern = regexp.MustCompile(`(?i)^\s*(?:\*\*)?sources?\s*:\**\s*(.*)$`)
	sourcesBareHeaderPattern  = regexp.MustCompile(`(?i)^\s*(?:\*\*)?sources?(?:\*\*)?\s*$`)

	// listItemPattern matches one entry line of a sources block.
	listItemPattern = regexp.MustCompile(`^\s*(?:[-*+]\s|\d+[.)]\s|\[\d+\])`)

	numberPattern = regexp.MustCompile(`\d+`)
)

// Source is one cited document section with its canonical link.
type Source struct {
	Filepath string
	Position int
	Title    string
	// Link is the canonical reference: the documentation-site URL when
	// one can be derived, else the repository URL, else the raw path.
	Link string
}

// Answer is the assembled result of one generation.
type Answer struct {
	// Body is the generated text with any model-written trailing
	// sources block removed.
	Body string
	// Sources lists the cited matches in ranked order, de-duplicated by
	// (filepath, position).
	Sources []Source
}

// String renders the final answer text: the body followed by the
// canonical sources list.
func (ans Answer) String() string {
	block := ans.SourcesBlock()
	if block == "" {
		return ans.Body
	}
	if ans.Body == "" {
		return block
	}
	return ans.Body + "\n\n" + block
}

// SourcesBlock renders just the sources list, or "" when there are no
// sources. Callers that stream the body print this afterwards.
func (ans Answer) SourcesBlock() string {
	if len(ans.Sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources:")
	for i, src := range ans.Sources {
		label := src.Title
		if label == "" {
			label = src.Filepath
		}
		fmt.Fprintf(&b, "\n%d. [%s](%s)", i+1, label, src.Link)
	}
	return b.String()
}

// Assembler turns raw model output plus the ranked matches it was
// shown into an Answer.
type Assembler struct {
	links  linkResolver
	logger log.Logger
}

// NewAssembler creates an Assembler with the configured link scheme.
func NewAssembler(cfg config.CitationConfig, logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Assembler{links: linkResolver{cfg: cfg}, logger: logger}
}

// Assemble resolves which of the ranked matches the generated text
// actually cited and builds the final answer. When text contains no
// resolvable citation, every match is cited, in ranked order.
func (a *Assembler) Assemble(text string, matches []retrieval.Match) Answer {
	cited := a.citedMatches(text, matches)

	sources := make([]Source, 0, len(cited))
	seen := make(map[sourceKey]bool, len(cited))
	for _, m := range cited {
		key := sourceKey{m.Filepath, m.Position}
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, Source{
			Filepath: m.Filepath,
			Position: m.Position,
			Title:    m.Title,
			Link:     a.links.canonical(m.Filepath, m.Title),
		})
	}

	return Answer{
		Body:    stripTrailingSources(text),
		Sources: sources,
	}
}

type sourceKey struct {
	filepath string
	position int
}

// citedMatches maps the 1-based indexes found in text into matches.
// Out-of-range indexes are dropped; no resolvable index means the
// whole ranked set is cited.
func (a *Assembler) citedMatches(text string, matches []retrieval.Match) []retrieval.Match {
	indexes, found := extractCitations(text)
	if !found {
		return matches
	}

	cited := make([]retrieval.Match, 0, len(indexes))
	taken := make(map[int]bool, len(indexes))
	dropped := 0
	for _, idx := range indexes {
		if idx < 1 || idx > len(matches) {
			dropped++
			continue
		}
		if taken[idx] {
			continue
		}
		taken[idx] = true
		cited = append(cited, matches[idx-1])
	}
	if dropped > 0 {
		a.logger.Debug("dropped out-of-range citation indexes",
			"dropped", dropped, "matches", len(matches))
	}
	if len(cited) == 0 {
		// Markers existed but none resolved; citing nothing would hide
		// the material the model saw.
		return matches
	}

	// The final list is ranked-order, not appearance-order.
	ranked := make([]retrieval.Match, 0, len(cited))
	for i := range matches {
		if taken[i+1] {
			ranked = append(ranked, matches[i])
		}
	}
	return ranked
}

// extractCitations finds every 1-based source index in text: inline
// bracketed markers anywhere, plus bare numbers listed in a trailing
// sources block. found reports whether any candidate index appeared at
// all, valid or not.
func extractCitations(text string) (indexes []int, found bool) {
	for _, m := range inlineMarkerPattern.FindAllStringSubmatch(text, -1) {
		found = true
		if n, err := strconv.Atoi(m[1]); err == nil {
			indexes = append(indexes, n)
		}
	}

	if block, ok := trailingSourcesBlock(text); ok {
		for _, num := range numberPattern.FindAllString(block, -1) {
			found = true
			if n, err := strconv.Atoi(num); err == nil {
				indexes = append(indexes, n)
			}
		}
	}
	return indexes, found
}

// trailingSourcesBlock returns the text of a model-written sources
// block at the end of the answer, without its header keyword.
func trailingSourcesBlock(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	start, ok := trailingSourcesStart(lines)
	if !ok {
		return "", false
	}

	var b strings.Builder
	rest, _ := matchSourcesHeader(lines[start])
	b.WriteString(rest)
	for _, line := range lines[start+1:] {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String(), true
}

// matchSourcesHeader reports whether line opens a sources block and
// returns any inline list text after the colon.
func matchSourcesHeader(line string) (rest string, ok bool) {
	if m := sourcesColonHeaderPattern.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if sourcesBareHeaderPattern.MatchString(line) {
		return "", true
	}
	return "", false
}

// trailingSourcesStart locates the header line of a trailing sources
// block: the last non-blank lines must all be list items sitting under
// a "Sources:" header, or the final non-blank line itself carries the
// header with an inline list.
func trailingSourcesStart(lines []string) (int, bool) {
	end := len(lines) - 1
	for end >= 0 && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	if end < 0 {
		return 0, false
	}

	i := end
	for i >= 0 && listItemPattern.MatchString(lines[i]) {
		i--
	}
	if i < 0 {
		return 0, false
	}
	if _, ok := matchSourcesHeader(lines[i]); ok {
		return i, true
	}
	return 0, false
}

// stripTrailingSources removes a model-written trailing sources block;
// the assembler replaces it with the canonical list.
func stripTrailingSources(text string) string {
	lines := strings.Split(text, "\n")
	start, ok := trailingSourcesStart(lines)
	if !ok {
		return strings.TrimRight(text, " \t\n")
	}
	return strings.TrimRight(strings.Join(lines[:start], "\n"), " \t\n")
}

// linkResolver derives stable links for cited chunks.
type linkResolver struct {
	cfg config.CitationConfig
}

// canonical returns the preferred link for path: the documentation-site
// URL, else the repository URL, else the raw path. A heading slug is
// appended as a fragment when the chunk has a title.
func (l linkResolver) canonical(path, title string) string {
	link := l.docsLink(path)
	if link == "" {
		link = l.repoLink(path)
	}
	if link == "" {
		link = path
	}
	if slug := headingSlug(title); slug != "" {
		link += "#" + slug
	}
	return link
}

// repoLink builds the repository source URL, or "" when no repository
// is configured.
func (l linkResolver) repoLink(path string) string {
	if l.cfg.RepoOwner == "" || l.cfg.RepoName == "" {
		return ""
	}
	branch := l.cfg.RepoBranch
	if branch == "" {
		branch = "main"
	}
	scoped := path
	if prefix := strings.Trim(l.cfg.RepoPathPrefix, "/"); prefix != "" {
		scoped = prefix + "/" + scoped
	}
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s",
		l.cfg.RepoOwner, l.cfg.RepoName, branch, scoped)
}

// docsLink builds the documentation-site URL: the content root prefix
// and file extension are stripped and a trailing "index" segment
// collapses onto its directory. Returns "" when no docs base URL is
// configured.
func (l linkResolver) docsLink(path string) string {
	base := strings.TrimRight(l.cfg.DocsBaseURL, "/")
	if base == "" {
		return ""
	}

	p := path
	if root := strings.Trim(l.cfg.ContentRoot, "/"); root != "" {
		switch {
		case p == root:
			p = ""
		case strings.HasPrefix(p, root+"/"):
			p = p[len(root)+1:]
		}
	}

	if dot := strings.LastIndex(p, "."); dot > strings.LastIndex(p, "/") {
		p = p[:dot]
	}

	switch {
	case p == "index":
		p = ""
	case strings.HasSuffix(p, "/index"):
		p = strings.TrimSuffix(p, "/index")
	}

	if p == "" {
		return base
	}
	return base + "/" + p
}

// headingSlug converts a section title to a URL fragment the way
// markdown renderers anchor headings: lowercased, spaces to hyphens,
// punctuation dropped.
func headingSlug(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r == ' ':
			b.WriteByte('-')
		case r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
