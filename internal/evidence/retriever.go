package evidence

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

// Embedder computes text embeddings. Transport failures degrade the
// retriever to keyword ranking, never fail the call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hybrid ranking weights when embeddings are available.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"that": true, "this": true, "from": true, "have": true, "are": true,
	"was": true, "were": true, "which": true, "when": true, "where": true,
	"there": true, "their": true, "about": true, "into": true, "does": true,
	"why": true, "how": true, "any": true, "all": true, "been": true,
}

// Retriever ranks a session's evidence against a natural-language
// question.
type Retriever struct {
	embedder Embedder
}

// NewRetriever returns a Retriever. embedder may be nil, in which case
// only keyword ranking is available.
func NewRetriever(embedder Embedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// FindRelevant returns at most topK evidence entries ordered by
// relevance to the question. Entries without a usable summary are
// excluded, never errored on. Ties keep the inventory order.
func (r *Retriever) FindRelevant(ctx context.Context, question string, inventory []Evidence, topK int, useEmbeddings bool) []Evidence {
	if topK <= 0 || len(inventory) == 0 {
		return nil
	}

	var usable []Evidence
	for _, ev := range inventory {
		if strings.TrimSpace(ev.Summary) != "" {
			usable = append(usable, ev)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	scores := r.score(ctx, question, usable, useEmbeddings)

	idx := make([]int, len(usable))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	if topK > len(idx) {
		topK = len(idx)
	}
	out := make([]Evidence, 0, topK)
	for _, i := range idx[:topK] {
		out = append(out, usable[i])
	}
	return out
}

func (r *Retriever) score(ctx context.Context, question string, usable []Evidence, useEmbeddings bool) []float64 {
	keyword := make([]float64, len(usable))
	for i, ev := range usable {
		keyword[i] = keywordScore(question, ev.Command+" "+ev.Summary)
	}
	if !useEmbeddings || r.embedder == nil {
		return keyword
	}

	qvec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrieval: embedding failed, falling back to keyword ranking: %v\n", err)
		return keyword
	}

	scores := make([]float64, len(usable))
	for i, ev := range usable {
		vec := ev.Embedding
		if len(vec) == 0 {
			v, err := r.embedder.Embed(ctx, ev.Summary)
			if err != nil {
				fmt.Fprintf(os.Stderr, "retrieval: embedding failed, falling back to keyword ranking: %v\n", err)
				return keyword
			}
			vec = v
		}
		scores[i] = semanticWeight*cosineSimilarity(qvec, vec) + keywordWeight*keyword[i]
	}
	return scores
}

// keywordScore counts question-term occurrences in the text, normalized
// by the number of terms. Terms shorter than four characters and
// stopwords are ignored.
func keywordScore(question, text string) float64 {
	terms := queryTerms(question)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	count := 0
	for _, term := range terms {
		count += strings.Count(lower, term)
	}
	return float64(count) / float64(len(terms))
}

func queryTerms(question string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(question)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 3 && !stopwords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
