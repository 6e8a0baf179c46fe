package impl

import (
	"context"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sentinel-rag/sentinel/services"
)

// PII tag names emitted by the analyser. The set is fixed; retrieval
// reports which of these were found on each query.
const (
	piiTypeEmail      = "EMAIL"
	piiTypePhone      = "PHONE"
	piiTypeSSN        = "SSN"
	piiTypeCreditCard = "CREDIT_CARD"
	piiTypeIPAddress  = "IP_ADDRESS"
	piiTypePerson     = "PERSON"
)

type redactJob struct {
	ctx     context.Context
	text    string
	idx     int
	results []string
	found   map[string]struct{}
	mu      *sync.Mutex
	wg      *sync.WaitGroup
}

// redactorImpl owns a fixed-size worker pool. Each worker holds its own
// analyser; no analyser state is shared across goroutines. The submit
// channel is bounded: when the queue is saturated, Redact fails rather
// than block the request path indefinitely.
type redactorImpl struct {
	jobs    chan redactJob
	workers int
}

// NewPIIRedactor pre-warms a pool sized to the available cores.
func NewPIIRedactor() services.PIIRedactor {
	return NewPIIRedactorWithWorkers(runtime.GOMAXPROCS(0))
}

func NewPIIRedactorWithWorkers(workers int) services.PIIRedactor {
	if workers < 1 {
		workers = 1
	}
	r := &redactorImpl{
		jobs:    make(chan redactJob, workers*4),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

func (r *redactorImpl) worker() {
	analyzer := newPIIAnalyzer()
	for job := range r.jobs {
		if job.ctx.Err() != nil {
			job.wg.Done()
			continue
		}
		redacted, types := analyzer.redact(job.text)
		job.mu.Lock()
		job.results[job.idx] = redacted
		for _, t := range types {
			job.found[t] = struct{}{}
		}
		job.mu.Unlock()
		job.wg.Done()
	}
}

// Redact processes the batch in parallel, preserving order and count.
func (r *redactorImpl) Redact(ctx context.Context, texts []string) ([]string, *services.RedactionReport, error) {
	if len(texts) == 0 {
		return []string{}, &services.RedactionReport{}, nil
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		found = make(map[string]struct{})
	)
	results := make([]string, len(texts))

	wg.Add(len(texts))
	for i, text := range texts {
		job := redactJob{
			ctx:     ctx,
			text:    text,
			idx:     i,
			results: results,
			found:   found,
			mu:      &mu,
			wg:      &wg,
		}
		select {
		case r.jobs <- job:
		case <-ctx.Done():
			// Submitted jobs still complete; undo the pending adds.
			for j := i; j < len(texts); j++ {
				wg.Done()
			}
			wg.Wait()
			return nil, nil, ctx.Err()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	types := make([]string, 0, len(found))
	for t := range found {
		types = append(types, t)
	}
	sort.Strings(types)

	return results, &services.RedactionReport{
		Found: len(types) > 0,
		Types: types,
	}, nil
}

// piiAnalyzer recognises the fixed PII type set. One instance per worker.
type piiAnalyzer struct {
	patterns []piiPattern
	person   *regexp.Regexp
}

type piiPattern struct {
	typ string
	re  *regexp.Regexp
}

func newPIIAnalyzer() *piiAnalyzer {
	return &piiAnalyzer{
		patterns: []piiPattern{
			{piiTypeEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
			{piiTypeCreditCard, regexp.MustCompile(`\b(?:\d{4}[ \-]){3}\d{4}\b`)},
			{piiTypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
			{piiTypePhone, regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-]?)?(?:\(\d{3}\)|\b\d{3})[\s.\-]\d{3}[\s.\-]?\d{4}\b`)},
			{piiTypeIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
		},
		person: regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`),
	}
}

// personStopwords are capitalized words that start sentences or appear in
// headings; a candidate name sequence is trimmed of them before deciding
// whether it looks like a person.
var personStopwords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"A": true, "An": true, "In": true, "On": true, "At": true, "For": true,
	"And": true, "Or": true, "But": true, "If": true, "When": true,
	"Contact": true, "Email": true, "Call": true, "Dear": true, "From": true,
	"To": true, "Please": true, "See": true, "New": true, "All": true,
}

func (a *piiAnalyzer) redact(text string) (string, []string) {
	var types []string

	for _, p := range a.patterns {
		if p.re.MatchString(text) {
			text = p.re.ReplaceAllString(text, "<"+p.typ+">")
			types = append(types, p.typ)
		}
	}

	redacted, matched := a.redactPersons(text)
	if matched {
		types = append(types, piiTypePerson)
	}
	return redacted, types
}

// redactPersons finds runs of two or more capitalized words, trims
// leading stopwords, and tags what remains when at least two words
// survive.
func (a *piiAnalyzer) redactPersons(text string) (string, bool) {
	matched := false
	out := a.person.ReplaceAllStringFunc(text, func(candidate string) string {
		words := strings.Fields(candidate)
		start := 0
		for start < len(words) && personStopwords[words[start]] {
			start++
		}
		if len(words)-start < 2 {
			return candidate
		}
		matched = true
		prefix := ""
		if start > 0 {
			prefix = strings.Join(words[:start], " ") + " "
		}
		return prefix + "<" + piiTypePerson + ">"
	})
	return out, matched
}
