package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// numberedFile builds n lines of the form "line 0001 ...", newline-joined,
// with no blank lines, so fragment spans can be checked against line indexes.
func numberedFile(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %04d some padding text to give each line a realistic width", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestSplit_EmptyFile(t *testing.T) {
	s := New()
	for _, content := range []string{"", "   ", "\n\n\t\n"} {
		if got := s.Split("a.go", content); got != nil {
			t.Errorf("Split(%q) = %v, want nil", content, got)
		}
	}
}

func TestSplit_SmallFileSingleFragment(t *testing.T) {
	s := New()
	content := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	frags := s.Split("main.go", content)
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	f := frags[0]
	if f.Content != strings.TrimSpace(content) {
		t.Errorf("fragment content = %q, want whole trimmed file", f.Content)
	}
	if f.StartLine != 1 || f.EndLine != 5 {
		t.Errorf("fragment span = [%d, %d], want [1, 5]", f.StartLine, f.EndLine)
	}
}

func TestSplit_LineSpansMatchContent(t *testing.T) {
	s := New()
	content := numberedFile(200)
	lines := strings.Split(content, "\n")

	frags := s.Split("notes.txt", content)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
	for i, f := range frags {
		if f.StartLine < 1 || f.EndLine < f.StartLine {
			t.Fatalf("fragment %d has invalid span [%d, %d]", i, f.StartLine, f.EndLine)
		}
		if f.EndLine > len(lines) {
			t.Fatalf("fragment %d end line %d past EOF (%d lines)", i, f.EndLine, len(lines))
		}
		want := strings.Join(lines[f.StartLine-1:f.EndLine], "\n")
		if f.Content != want {
			t.Errorf("fragment %d: re-slicing lines [%d, %d] does not reproduce content", i, f.StartLine, f.EndLine)
		}
		if len(f.Content) > s.ChunkSize {
			t.Errorf("fragment %d is %d bytes, over the %d budget", i, len(f.Content), s.ChunkSize)
		}
	}
}

func TestSplit_CoverageAndOverlap(t *testing.T) {
	s := New()
	content := numberedFile(300)
	frags := s.Split("notes.txt", content)

	if frags[0].StartLine != 1 {
		t.Errorf("first fragment starts at line %d, want 1", frags[0].StartLine)
	}
	lastLine := strings.Count(content, "\n") + 1
	if got := frags[len(frags)-1].EndLine; got != lastLine {
		t.Errorf("last fragment ends at line %d, want %d", got, lastLine)
	}
	for i := 1; i < len(frags); i++ {
		prev, cur := frags[i-1], frags[i]
		if cur.StartLine > prev.EndLine+1 {
			t.Errorf("gap between fragment %d (ends %d) and %d (starts %d)", i-1, prev.EndLine, i, cur.StartLine)
		}
		if cur.StartLine <= prev.StartLine {
			t.Errorf("fragments out of order: %d starts at %d, %d starts at %d", i-1, prev.StartLine, i, cur.StartLine)
		}
	}
}

func TestSplit_PrefersFunctionBoundaries(t *testing.T) {
	s := New()
	var b strings.Builder
	b.WriteString("package demo\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "\nfunc handler%02d() {\n", i)
		for j := 0; j < 12; j++ {
			fmt.Fprintf(&b, "\tdoWork(%d, %d) // %s\n", i, j, strings.Repeat("x", 40))
		}
		b.WriteString("}\n")
	}
	frags := s.Split("handlers.go", b.String())
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
	for i, f := range frags[1:] {
		if !strings.HasPrefix(f.Content, "func ") {
			t.Errorf("fragment %d does not start at a function boundary: %q", i+1, f.Content[:40])
		}
	}
}

func TestSplit_RepeatedTextKeepsExactLines(t *testing.T) {
	s := New()
	// The same block recurs verbatim; offsets are tracked directly, so the
	// later occurrences must keep their own line numbers.
	block := "func helper() {\n\treturn\n}\n"
	filler := strings.Repeat("// padding line with enough text to push the next block along\n", 60)
	content := "package demo\n\n" + block + "\n" + filler + "\n" + block + "\n" + filler + "\n" + block
	lines := strings.Split(content, "\n")

	frags := s.Split("demo.go", content)
	seen := map[int]bool{}
	for _, f := range frags {
		if seen[f.StartLine] {
			t.Errorf("two fragments claim start line %d", f.StartLine)
		}
		seen[f.StartLine] = true
		want := strings.Join(lines[f.StartLine-1:f.EndLine], "\n")
		if f.Content != want {
			t.Errorf("fragment at line %d does not match its declared span", f.StartLine)
		}
	}
}

func TestSplit_HardCutFallback(t *testing.T) {
	s := &Splitter{ChunkSize: 100, ChunkOverlap: 10}
	// A single token with no separators at all forces fixed-size windows.
	content := strings.Repeat("a", 450)
	frags := s.Split("blob.bin", content)
	if len(frags) != 5 {
		t.Fatalf("expected 5 window fragments, got %d", len(frags))
	}
	var total int
	for i, f := range frags {
		if len(f.Content) > 100 {
			t.Errorf("fragment %d is %d bytes, over budget", i, len(f.Content))
		}
		if f.StartLine != 1 || f.EndLine != 1 {
			t.Errorf("fragment %d span = [%d, %d], want [1, 1]", i, f.StartLine, f.EndLine)
		}
		total += len(f.Content)
	}
	if total != 450 {
		t.Errorf("window fragments cover %d bytes, want 450", total)
	}
}

func TestSplitterLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"src/app.tsx", "js"},
		{"pkg/server.go", "go"},
		{"scripts/run.py", "python"},
		{"README.md", "markdown"},
		{"conf/nginx.conf", "plain"},
		{"Main.java", "java"},
		{"lib.rs", "rust"},
	}
	for _, tt := range tests {
		if got := splitterLanguage(tt.path); got != tt.want {
			t.Errorf("splitterLanguage(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
