package research

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jandive/jandive/utils"
)

// Synthesizer turns an aggregated corpus into a cited report. It selects
// the most relevant corpus entries within a word budget, prompts the
// oracle once, and then scrubs any citation index the model invented.
type Synthesizer struct {
	oracle          Oracle
	maxContextWords int
	logger          *log.Logger
}

func NewSynthesizer(oracle Oracle, maxContextWords int) *Synthesizer {
	if maxContextWords <= 0 {
		maxContextWords = 3000
	}
	return &Synthesizer{
		oracle:          oracle,
		maxContextWords: maxContextWords,
		logger:          log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

const synthesisPrompt = `You are a research analyst. Using ONLY the numbered sources below, answer the user's question.

Question: %s

%s
Write your answer in exactly this structure:

## Summary
%s

## Detailed Findings
Organised findings drawn from the sources. Cite every claim with the source number in the form [Source N]. Never cite a number that does not appear above.

## Conclusion
A direct answer to the question, with the main caveats.`

const offlinePrompt = `Answer the following question from your own knowledge. No external sources were consulted, so do not fabricate citations or URLs. Be explicit about uncertainty.

Question: %s

Structure the answer as:

## Summary
%s

## Detailed Findings

## Conclusion`

// Synthesize produces the final report. An empty corpus outside offline
// mode yields a static no-sources report rather than an oracle call, so
// the model never gets the chance to invent citations from nothing.
func (s *Synthesizer) Synthesize(ctx context.Context, userQuery string, corpus []CorpusEntry, temperature float64, maxTokens int, concise, offline bool) (*Report, error) {
	lengthHint := "Two to four paragraphs."
	if concise {
		lengthHint = "Two or three sentences. Keep the whole answer short."
	}

	if offline {
		prompt := fmt.Sprintf(offlinePrompt, userQuery, lengthHint)
		raw, err := s.oracle.Complete(ctx, prompt, temperature, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("offline synthesis: %w", err)
		}
		raw = stripReasoning(raw)
		rep := splitReport(raw)
		rep.NoExternalSources = true
		rep.Markdown = raw + "\n\n*No external sources consulted.*\n"
		return rep, nil
	}

	if len(corpus) == 0 {
		md := "## Summary\n\nNo usable sources could be retrieved for this question, so no sourced answer can be given.\n"
		return &Report{
			Summary:   "No usable sources could be retrieved for this question.",
			Markdown:  md,
			NoSources: true,
		}, nil
	}

	block, included := s.sourceBlock(corpus)
	prompt := fmt.Sprintf(synthesisPrompt, userQuery, block, lengthHint)
	raw, err := s.oracle.Complete(ctx, prompt, temperature, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	cleaned, cited := scrubCitations(stripReasoning(raw), included)
	rep := splitReport(cleaned)
	rep.Citations = citationList(corpus, cited)
	rep.Markdown = renderMarkdown(cleaned, rep.Citations)
	return rep, nil
}

// sourceBlock renders corpus entries as numbered source sections within
// the word budget, keeping the retrieval-assigned indices so citations
// stay stable. It returns the set of indices actually included.
func (s *Synthesizer) sourceBlock(corpus []CorpusEntry) (string, map[int]bool) {
	included := make(map[int]bool, len(corpus))
	var b strings.Builder
	budget := s.maxContextWords
	for _, entry := range corpus {
		if budget <= 0 {
			break
		}
		text := entry.Source.ExtractedText
		words := utils.WordCount(text)
		if words > budget {
			text = truncateWords(text, budget)
			words = budget
		}
		budget -= words
		fmt.Fprintf(&b, "Source %d: %s (%s)\n%s\n\n", entry.Index, entry.Source.Title, entry.Source.URL, text)
		included[entry.Index] = true
	}
	if len(included) < len(corpus) {
		s.logger.Printf("context budget reached, %d of %d sources included", len(included), len(corpus))
	}
	return b.String(), included
}

var reCitation = regexp.MustCompile(`(?i)\[sources?\s*([0-9,\s]+)\]`)

var (
	reReasoningBlock = regexp.MustCompile(`(?is)<(think|thought|thinking|tool_call|reasoning)>.*?</(think|thought|thinking|tool_call|reasoning)>`)
	reReasoningTag   = regexp.MustCompile(`(?i)</?(think|thought|thinking|tool_call|reasoning)>`)
)

// stripReasoning removes the chain-of-thought blocks reasoning models
// emit before their answer, plus any stray unmatched tags.
func stripReasoning(s string) string {
	s = reReasoningBlock.ReplaceAllString(s, "")
	s = reReasoningTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// scrubCitations removes citation indices the corpus does not contain
// and reports which valid indices the text cites.
func scrubCitations(text string, valid map[int]bool) (string, map[int]bool) {
	cited := make(map[int]bool)
	out := reCitation.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCitation.FindStringSubmatch(m)
		var keep []string
		for _, part := range strings.Split(sub[1], ",") {
			part = strings.TrimSpace(part)
			n, err := strconv.Atoi(part)
			if err != nil || !valid[n] {
				continue
			}
			cited[n] = true
			keep = append(keep, part)
		}
		if len(keep) == 0 {
			return ""
		}
		return "[Source " + strings.Join(keep, ", ") + "]"
	})
	return out, cited
}

func citationList(corpus []CorpusEntry, cited map[int]bool) []Citation {
	var out []Citation
	for _, entry := range corpus {
		if cited[entry.Index] {
			out = append(out, Citation{Index: entry.Index, URL: entry.Source.URL, Title: entry.Source.Title})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func renderMarkdown(body string, citations []Citation) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
	if len(citations) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, c := range citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", c.Index, title, c.URL)
		}
	}
	return b.String()
}

// splitReport slices the structured oracle answer back into its three
// sections. Unrecognised output lands whole in Summary so nothing is
// silently dropped.
func splitReport(raw string) *Report {
	rep := &Report{}
	var findings string
	sections := map[string]*string{
		"summary":           &rep.Summary,
		"detailed findings": &findings,
		"findings":          &findings,
		"conclusion":        &rep.Conclusion,
	}
	current := &rep.Summary
	found := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
			if target, ok := sections[heading]; ok {
				current = target
				found = true
				continue
			}
		}
		*current += line + "\n"
	}
	rep.Summary = strings.TrimSpace(rep.Summary)
	rep.Conclusion = strings.TrimSpace(rep.Conclusion)
	rep.Findings = splitFindings(findings)
	if !found {
		rep.Summary = strings.TrimSpace(raw)
	}
	return rep
}

// splitFindings breaks the findings section into individual items. Bullet
// lists split per bullet; plain prose splits per paragraph.
func splitFindings(section string) []string {
	section = strings.TrimSpace(section)
	if section == "" {
		return nil
	}
	var items []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			items = append(items, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		bullet := strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")
		if bullet || trimmed == "" {
			flush()
		}
		if bullet {
			trimmed = strings.TrimSpace(trimmed[2:])
		}
		if trimmed != "" {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(trimmed)
		}
	}
	flush()
	return items
}

func truncateWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}
