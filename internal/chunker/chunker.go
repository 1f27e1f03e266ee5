// Package chunker splits file text into overlapping, line-numbered fragments.
// Splitting prefers syntactic boundaries for the file's language family and
// falls back to blank lines, single lines, words, and finally fixed-size
// windows. Byte offsets are tracked through the whole split, so line numbers
// stay exact even when a fragment's text repeats verbatim earlier in the file.
package chunker

import (
	"path/filepath"
	"strings"
)

const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 300
)

// Fragment is a slice of one file's text. Line numbers are 1-indexed and
// inclusive; Content is trimmed of surrounding whitespace.
type Fragment struct {
	Content   string
	StartLine int
	EndLine   int
}

// Splitter produces fragments no larger than ChunkSize with roughly
// ChunkOverlap bytes shared between consecutive fragments.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// New returns a Splitter with the default size budget and overlap.
func New() *Splitter {
	return &Splitter{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// piece is a contiguous segment of the original content, located by its
// absolute byte offset.
type piece struct {
	text string
	off  int
}

// Split cuts content into ordered fragments covering the whole file.
// An empty or whitespace-only file yields no fragments; a file within the
// size budget yields exactly one.
func (s *Splitter) Split(path, content string) []Fragment {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	pieces := s.cut(content, 0, separatorsFor(splitterLanguage(path)))
	return s.assemble(content, pieces)
}

// cut recursively divides text (located at absolute offset off) into pieces
// no larger than ChunkSize, trying each separator in order.
func (s *Splitter) cut(text string, off int, seps []string) []piece {
	if len(text) <= s.ChunkSize {
		return []piece{{text: text, off: off}}
	}

	sep := ""
	var rest []string
	for i, cand := range seps {
		// A match at offset 0 cannot cut anything, so look past it.
		if strings.Contains(text[1:], cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return windows(text, off, s.ChunkSize)
	}

	var out []piece
	start := 0
	for {
		j := strings.Index(text[start+1:], sep)
		if j < 0 {
			break
		}
		cutAt := start + 1 + j
		out = append(out, s.segment(text[start:cutAt], off+start, rest)...)
		start = cutAt
	}
	return append(out, s.segment(text[start:], off+start, rest)...)
}

// segment keeps seg whole when it fits, otherwise recurses with the
// remaining, finer separators.
func (s *Splitter) segment(seg string, off int, rest []string) []piece {
	if len(seg) <= s.ChunkSize {
		return []piece{{text: seg, off: off}}
	}
	return s.cut(seg, off, rest)
}

// windows hard-cuts text at the size budget when no separator applies.
func windows(text string, off, size int) []piece {
	var out []piece
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, piece{text: text[start:end], off: off + start})
	}
	return out
}

// assemble merges consecutive pieces into fragments within the size budget,
// carrying trailing pieces over into the next fragment as overlap.
func (s *Splitter) assemble(content string, pieces []piece) []Fragment {
	var frags []Fragment
	var window []piece
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		first, last := window[0], window[len(window)-1]
		if f, ok := fragment(content, first.off, last.off+len(last.text)); ok {
			frags = append(frags, f)
		}
	}

	for _, p := range pieces {
		if total+len(p.text) > s.ChunkSize && len(window) > 0 {
			flush()
			for len(window) > 0 && (total > s.ChunkOverlap || total+len(p.text) > s.ChunkSize) {
				total -= len(window[0].text)
				window = window[1:]
			}
		}
		window = append(window, p)
		total += len(p.text)
	}
	flush()
	return frags
}

// fragment trims the slice [start, end) of content and derives its line span
// from the trimmed offsets. Leading newlines are dropped (they belong to the
// previous fragment's last line); leading indentation is kept so the fragment
// still re-slices cleanly against the original lines. Whitespace-only slices
// produce no fragment.
func fragment(content string, start, end int) (Fragment, bool) {
	text := content[start:end]
	lead := len(text) - len(strings.TrimLeft(text, "\r\n"))
	text = strings.TrimRight(text[lead:], " \t\r\n")
	if text == "" {
		return Fragment{}, false
	}
	start += lead
	line := 1 + strings.Count(content[:start], "\n")
	return Fragment{
		Content:   text,
		StartLine: line,
		EndLine:   line + strings.Count(text, "\n"),
	}, true
}

// splitterLanguage maps a file path to the separator family used to split it.
// Unknown extensions fall back to a generic blank-line strategy.
func splitterLanguage(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "js", "jsx", "ts", "tsx":
		return "js"
	case "py":
		return "python"
	case "java", "kt", "scala":
		return "java"
	case "go":
		return "go"
	case "c", "h", "cpp", "cs":
		return "cpp"
	case "rb":
		return "ruby"
	case "php":
		return "php"
	case "swift":
		return "swift"
	case "rs":
		return "rust"
	case "md":
		return "markdown"
	case "html":
		return "html"
	default:
		return "plain"
	}
}

func separatorsFor(lang string) []string {
	switch lang {
	case "go":
		return []string{"\nfunc ", "\ntype ", "\nconst ", "\nvar ", "\n\n", "\n", " "}
	case "js":
		return []string{"\nfunction ", "\nexport ", "\nclass ", "\nconst ", "\nlet ", "\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\n\n", "\n", " "}
	case "python":
		return []string{"\nclass ", "\ndef ", "\n\tdef ", "\n    def ", "\n\n", "\n", " "}
	case "java":
		return []string{"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\nstatic ", "\n\n", "\n", " "}
	case "cpp":
		return []string{"\nclass ", "\nnamespace ", "\nvoid ", "\nint ", "\nstatic ", "\n\n", "\n", " "}
	case "ruby":
		return []string{"\nmodule ", "\nclass ", "\ndef ", "\n\n", "\n", " "}
	case "php":
		return []string{"\nfunction ", "\nclass ", "\nif ", "\n\n", "\n", " "}
	case "swift":
		return []string{"\nfunc ", "\nclass ", "\nstruct ", "\nenum ", "\n\n", "\n", " "}
	case "rust":
		return []string{"\nfn ", "\nimpl ", "\nstruct ", "\nenum ", "\nmod ", "\n\n", "\n", " "}
	case "markdown":
		return []string{"\n# ", "\n## ", "\n### ", "\n\n", "\n", " "}
	case "html":
		return []string{"<div", "<section", "<table", "<p", "\n\n", "\n", " "}
	default:
		return []string{"\n\n", "\n", " "}
	}
}
