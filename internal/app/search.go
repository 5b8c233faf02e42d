package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/core"
	"composer-repos/internal/types"
)

// ParseSearchMode maps fulltext, name or vendor to a search mode. Empty
// means fulltext.
func ParseSearchMode(value string) (types.SearchMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fulltext":
		return types.SearchFulltext, nil
	case "name":
		return types.SearchName, nil
	case "vendor":
		return types.SearchVendor, nil
	default:
		return 0, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported search mode %q, expected fulltext, name or vendor", value))
	}
}

// Search queries every configured repository. A name found in a higher
// priority repository hides the same name further down.
func (s Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("search query is required")
	}
	mode, err := ParseSearchMode(req.Mode)
	if err != nil {
		return SearchResult{}, err
	}
	repos, err := s.repositories(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	composite := core.NewCompositeRepository(repos...)
	found, err := composite.Search(ctx, query, mode, req.Type)
	if err != nil {
		return SearchResult{}, err
	}
	seen := map[string]bool{}
	results := []types.SearchResult{}
	for _, result := range found {
		key := strings.ToLower(result.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, result)
	}
	return SearchResult{Query: query, Results: results}, nil
}
