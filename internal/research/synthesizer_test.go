package research

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testCorpus() []CorpusEntry {
	return []CorpusEntry{
		{Index: 1, Source: okSource("https://a.example.com/press", "Press history", "the printing press was invented around 1440 by johannes gutenberg")},
		{Index: 2, Source: okSource("https://b.example.com/type", "Movable type", "movable type existed in china centuries before gutenberg")},
	}
}

func TestSynthesizeBuildsCitedReport(t *testing.T) {
	oracle := &fakeOracle{responses: []string{
		"## Summary\nThe press dates to around 1440 [Source 1].\n\n## Detailed Findings\n- Gutenberg built his press around 1440 [Source 1].\n- Movable type predates him in China [Source 2].\n\n## Conclusion\nBoth traditions matter [Source 1, 2].",
	}}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "history of the printing press", testCorpus(), 0.3, 1024, false, false)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(rep.Citations) != 2 {
		t.Fatalf("got %d citations, want 2: %+v", len(rep.Citations), rep.Citations)
	}
	if rep.Citations[0].Index != 1 || rep.Citations[0].URL != "https://a.example.com/press" {
		t.Errorf("first citation = %+v", rep.Citations[0])
	}
	if len(rep.Findings) != 2 {
		t.Errorf("got %d findings, want 2: %+v", len(rep.Findings), rep.Findings)
	}
	if !strings.Contains(rep.Markdown, "## Sources") {
		t.Errorf("markdown lacks sources section:\n%s", rep.Markdown)
	}
	if !strings.Contains(oracle.prompts[0], "Source 1:") || !strings.Contains(oracle.prompts[0], "Source 2:") {
		t.Errorf("prompt missing numbered source blocks")
	}
}

func TestSynthesizeScrubsInventedCitations(t *testing.T) {
	oracle := &fakeOracle{responses: []string{
		"## Summary\nReal claim [Source 1]. Invented claim [Source 7]. Mixed claim [Source 2, 9].\n\n## Conclusion\nDone.",
	}}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "q", testCorpus(), 0.3, 1024, false, false)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if strings.Contains(rep.Markdown, "Source 7") || strings.Contains(rep.Markdown, "Source 9") {
		t.Errorf("invented citation survived:\n%s", rep.Markdown)
	}
	if !strings.Contains(rep.Summary, "[Source 1]") {
		t.Errorf("valid citation was stripped: %q", rep.Summary)
	}
	if !strings.Contains(rep.Summary, "[Source 2]") {
		t.Errorf("mixed citation did not keep its valid index: %q", rep.Summary)
	}
	if len(rep.Citations) != 2 {
		t.Errorf("got %d citations, want 2: %+v", len(rep.Citations), rep.Citations)
	}
}

func TestSynthesizeStripsReasoningTags(t *testing.T) {
	oracle := &fakeOracle{responses: []string{
		"<think>\nThe user wants the press history. Source 1 covers it.\n</think>\n## Summary\nThe press dates to 1440 [Source 1].\n\n## Conclusion\nDone.",
	}}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "q", testCorpus(), 0.3, 1024, false, false)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if strings.Contains(rep.Summary, "<think>") || strings.Contains(rep.Summary, "Source 1 covers it") {
		t.Errorf("reasoning leaked into summary: %q", rep.Summary)
	}
	if strings.Contains(rep.Markdown, "think>") {
		t.Errorf("reasoning leaked into markdown:\n%s", rep.Markdown)
	}
	if !strings.Contains(rep.Summary, "[Source 1]") {
		t.Errorf("answer lost while stripping reasoning: %q", rep.Summary)
	}
}

func TestSynthesizeOfflineStripsReasoningTags(t *testing.T) {
	oracle := &fakeOracle{responses: []string{
		"<think>\nNo sources, answer from memory.\n</think>\n## Summary\nFrom memory.\n\n## Conclusion\nUnverified.",
	}}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "q", nil, 0.3, 1024, false, true)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if strings.Contains(rep.Markdown, "think>") {
		t.Errorf("reasoning leaked into offline markdown:\n%s", rep.Markdown)
	}
}

func TestScrubCitationsIsCaseInsensitive(t *testing.T) {
	valid := map[int]bool{2: true}
	out, cited := scrubCitations("Lowercase claim [source 2]. Invented [source 9].", valid)
	if !cited[2] {
		t.Fatalf("lowercase citation not counted: %q", out)
	}
	if !strings.Contains(out, "[Source 2]") {
		t.Errorf("lowercase citation not normalised: %q", out)
	}
	if strings.Contains(out, "9") {
		t.Errorf("invented lowercase citation survived: %q", out)
	}
}

func TestSynthesizeEmptyCorpusSkipsOracle(t *testing.T) {
	oracle := &fakeOracle{}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "q", nil, 0.3, 1024, false, false)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !rep.NoSources {
		t.Errorf("report not marked as having no sources")
	}
	if len(rep.Citations) != 0 {
		t.Errorf("empty corpus produced citations: %+v", rep.Citations)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle called %d times for an empty corpus, want 0", oracle.calls)
	}
}

func TestSynthesizeOfflineMode(t *testing.T) {
	oracle := &fakeOracle{responses: []string{
		"## Summary\nFrom my own knowledge.\n\n## Conclusion\nUnverified.",
	}}
	s := NewSynthesizer(oracle, 3000)

	rep, err := s.Synthesize(context.Background(), "q", nil, 0.3, 1024, false, true)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !rep.NoExternalSources {
		t.Errorf("offline report not marked")
	}
	if !strings.Contains(rep.Markdown, "No external sources consulted") {
		t.Errorf("offline marker missing from markdown:\n%s", rep.Markdown)
	}
	if len(rep.Citations) != 0 {
		t.Errorf("offline report has citations: %+v", rep.Citations)
	}
}

func TestSynthesizeRespectsContextBudget(t *testing.T) {
	big := okSource("https://big.example.com/a", "Big", strings.Repeat("word ", 200))
	small := okSource("https://small.example.com/b", "Small", "short text here")
	corpus := []CorpusEntry{{Index: 1, Source: big}, {Index: 2, Source: small}}

	oracle := &fakeOracle{responses: []string{"## Summary\nx [Source 1].\n\n## Conclusion\ny."}}
	s := NewSynthesizer(oracle, 50)

	if _, err := s.Synthesize(context.Background(), "q", corpus, 0.3, 1024, false, false); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	prompt := oracle.prompts[0]
	if !strings.Contains(prompt, "Source 1:") {
		t.Errorf("first source missing from prompt")
	}
	if strings.Contains(prompt, "Source 2:") {
		t.Errorf("budget exceeded: second source included after 200-word first source")
	}
}

func TestSynthesizeOracleFailure(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("model crashed")}
	s := NewSynthesizer(oracle, 3000)

	if _, err := s.Synthesize(context.Background(), "q", testCorpus(), 0.3, 1024, false, false); err == nil {
		t.Fatalf("expected error when oracle fails")
	}
}
