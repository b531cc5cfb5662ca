package parser

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer"
)

// QueryPlan is the set of distinct terms a query matches on, in the order
// they first appear. Queries are unweighted: repeating a word does not
// change the plan.
type QueryPlan struct {
	Terms    []string
	RawQuery string
}

func Parse(tok indexer.Tokenizer, query string) (*QueryPlan, error) {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return plan, nil
	}
	terms, err := tok.Tokenize(query)
	if err != nil {
		return nil, fmt.Errorf("tokenizing query: %w", err)
	}
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		plan.Terms = append(plan.Terms, term)
	}
	return plan, nil
}
