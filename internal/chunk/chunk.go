// Package chunk splits raw document text into ordered, titled,
// checksummed sections ready for embedding and storage.
//
// Sections are delimited by markdown headings or a frontmatter title
// line. Oversized sections can be re-split against a token budget so
// that every emitted chunk fits the embedding model's input window:
//
//	splitter := chunk.New(chunk.WithTokenBudget(tok, 2000))
//	chunks := splitter.Split(doc.Content)
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Chunk is one titled, checksummed section of a source document.
// Position is the 0-based index in the document's section list and is
// contiguous across the chunks returned by a single Split call.
type Chunk struct {
	Title    string
	Content  string
	Checksum string
	Position int
}

// Tokenizer converts text to and from model tokens. The llm package
// provides model-aware implementations.
type Tokenizer interface {
	Count(text string) int
	Encode(text string) []int
	Decode(tokens []int) string
}

// lineSeparatorCost is the token cost charged for the newline joining
// two accumulated lines during a budget re-split.
const lineSeparatorCost = 1

var (
	headingPattern = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	titlePattern   = regexp.MustCompile(`^title:\s*(.*)$`)
)

// Splitter turns one document's text into ordered chunks.
type Splitter struct {
	tokenizer Tokenizer
	maxTokens int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithTokenBudget re-splits any section whose token count exceeds
// limit. The option is ignored unless both arguments are set.
func WithTokenBudget(tok Tokenizer, limit int) Option {
	return func(s *Splitter) {
		if tok != nil && limit > 0 {
			s.tokenizer = tok
			s.maxTokens = limit
		}
	}
}

// New creates a Splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split breaks text into sections at markdown heading and frontmatter
// title lines; every other line accumulates into the current section's
// body. A section is emitted only when it contains at least one
// non-whitespace line, so a document that opens with a heading does not
// produce an empty leading chunk. When a token budget is configured,
// oversized sections are re-split and each piece receives a derived
// title ("base_1", "base_2", ...). Checksums are hex SHA-256 digests of
// the chunk content.
func (s *Splitter) Split(text string) []Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sections []section
	current := section{}
	for _, line := range strings.Split(text, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			sections = appendSection(sections, current)
			current = section{title: headingTitle(m[1])}
			continue
		}
		if m := titlePattern.FindStringSubmatch(line); m != nil {
			sections = appendSection(sections, current)
			current = section{title: unquote(strings.TrimSpace(m[1]))}
			continue
		}
		current.lines = append(current.lines, line)
	}
	sections = appendSection(sections, current)

	var chunks []Chunk
	for _, sec := range sections {
		content := sec.content()
		if s.maxTokens > 0 && s.tokenizer.Count(content) > s.maxTokens {
			n := 0
			for _, piece := range s.resplit(sec.lines) {
				if strings.TrimSpace(piece) == "" {
					continue
				}
				n++
				chunks = append(chunks, Chunk{
					Title:   fmt.Sprintf("%s_%d", sec.title, n),
					Content: piece,
				})
			}
			continue
		}
		chunks = append(chunks, Chunk{Title: sec.title, Content: content})
	}

	for i := range chunks {
		chunks[i].Position = i
		chunks[i].Checksum = checksum(chunks[i].Content)
	}
	return chunks
}

// resplit breaks an oversized section along line boundaries, flushing
// the current piece whenever adding the next line would push the
// running token count past the budget. A single line that alone exceeds
// the budget is hard-split on token windows instead.
func (s *Splitter) resplit(lines []string) []string {
	var pieces []string
	var current []string
	used := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, strings.Join(current, "\n"))
		current = nil
		used = 0
	}

	for _, line := range lines {
		count := s.tokenizer.Count(line)
		if count > s.maxTokens {
			flush()
			pieces = append(pieces, s.hardSplit(line)...)
			continue
		}
		cost := count + lineSeparatorCost
		if used+cost > s.maxTokens {
			flush()
		}
		current = append(current, line)
		used += cost
	}
	flush()
	return pieces
}

// hardSplit encodes one oversized line into model tokens and decodes
// fixed-size windows back to text, so no piece exceeds the budget.
func (s *Splitter) hardSplit(line string) []string {
	ids := s.tokenizer.Encode(line)
	pieces := make([]string, 0, (len(ids)+s.maxTokens-1)/s.maxTokens)
	for start := 0; start < len(ids); start += s.maxTokens {
		end := min(start+s.maxTokens, len(ids))
		pieces = append(pieces, s.tokenizer.Decode(ids[start:end]))
	}
	return pieces
}

type section struct {
	title string
	lines []string
}

func (sec section) content() string {
	return strings.Join(sec.lines, "\n")
}

func (sec section) hasContent() bool {
	for _, line := range sec.lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

func appendSection(sections []section, sec section) []section {
	if !sec.hasContent() {
		return sections
	}
	return append(sections, sec)
}

// headingTitle trims heading text and drops an ATX closing sequence,
// so "## Title ##" yields "Title" while "# C#" keeps its hash.
func headingTitle(rest string) string {
	title := strings.TrimSpace(rest)
	stripped := strings.TrimRight(title, "#")
	if stripped != title && (stripped == "" || strings.HasSuffix(stripped, " ")) {
		title = strings.TrimSpace(stripped)
	}
	return title
}

// unquote removes one matching pair of surrounding quotes from a
// frontmatter title value.
func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '"' || first == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// checksum returns the hex SHA-256 digest of content. Equal digests are
// treated as equal content everywhere downstream.
func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
