package core

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"composer-repos/internal/types"
)

const (
	advisoryTimeout     = 10 * time.Second
	advisoryContentType = "application/x-www-form-urlencoded"
)

// HasSecurityAdvisories loads the root document, so a repository that cannot
// be reached reports its transport error rather than no advisories.
func (r *ComposerRepository) HasSecurityAdvisories(ctx context.Context) (bool, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return false, err
	}
	return r.advisories != nil && (r.advisories.metadata || r.advisories.apiURL != ""), nil
}

// GetSecurityAdvisories reads advisories from per-package metadata when the
// repository embeds them, and asks the advisory api for the remaining
// names in one form POST.
func (r *ComposerRepository) GetSecurityAdvisories(ctx context.Context, constraints map[string]types.Constraint, allowPartial bool) (types.AdvisoryResult, error) {
	empty := types.AdvisoryResult{NamesFound: []string{}, Advisories: map[string][]types.Advisory{}}
	if _, err := r.loadRoot(ctx); err != nil {
		return empty, err
	}
	config := r.advisories
	if config == nil {
		return empty, nil
	}
	remaining := make(map[string]types.Constraint, len(constraints))
	for name, constraint := range constraints {
		if r.hasAvailablePackageList && !config.queryAll && !r.lazyProvidersRepoContains(strings.ToLower(name)) {
			continue
		}
		remaining[name] = constraint
	}

	advisories := map[string][]types.Advisory{}
	namesFound := newNameSet()
	collect := func(name string, list []map[string]any) error {
		for _, data := range list {
			advisory, err := ParseAdvisory(name, data, allowPartial)
			if err != nil {
				return err
			}
			if advisoryMatches(advisory, remaining[name]) {
				advisories[name] = append(advisories[name], advisory)
			}
		}
		return nil
	}

	if config.metadata && (allowPartial || config.apiURL == "") {
		names := sortedAnyKeys(remaining)
		found := make([][]map[string]any, len(names))
		present := make([]bool, len(names))
		var mu sync.Mutex
		group := new(errgroup.Group)
		group.SetLimit(r.workers)
		for i, name := range names {
			lower := strings.ToLower(name)
			if IsPlatformPackage(lower) || lower == "__root__" {
				continue
			}
			group.Go(func() error {
				doc, _, err := r.startCachedAsyncDownload(ctx, lower, lower)
				if err != nil {
					return err
				}
				raw, isList := doc["security-advisories"].([]any)
				if !isList {
					return nil
				}
				mu.Lock()
				present[i] = true
				found[i] = mapSlice(raw)
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return empty, err
		}
		for i, name := range names {
			if !present[i] {
				continue
			}
			namesFound.add(strings.ToLower(name))
			if err := collect(name, found[i]); err != nil {
				return empty, err
			}
			delete(remaining, name)
		}
	}

	if config.apiURL != "" && len(remaining) > 0 {
		requested := sortedAnyKeys(remaining)
		form := url.Values{}
		for _, name := range requested {
			form.Add("packages[]", name)
		}
		headers := make(map[string]string, len(r.headers)+1)
		for name, value := range r.headers {
			headers[name] = value
		}
		headers["Content-Type"] = advisoryContentType
		resp, err := r.http.Post(ctx, config.apiURL, headers, []byte(form.Encode()), advisoryTimeout)
		resp, err = checkResponse(config.apiURL, resp, err)
		if err != nil {
			return empty, err
		}
		data, err := decodeDocument(config.apiURL, resp.Body)
		if err != nil {
			return empty, err
		}
		byName := mapValue(data["advisories"])
		warned := false
		for _, name := range sortedAnyKeys(byName) {
			if _, ok := remaining[name]; !ok {
				if !warned {
					warned = true
					log.Ctx(ctx).Warn().
						Str("repository", r.RepoName()).
						Str("name", name).
						Strs("requested", requested).
						Msg("security advisory api returned a name that was not requested")
				}
				continue
			}
			if err := collect(name, mapSlice(byName[name])); err != nil {
				return empty, err
			}
			namesFound.add(name)
		}
	}

	for name, list := range advisories {
		if len(list) == 0 {
			delete(advisories, name)
		}
	}
	return types.AdvisoryResult{NamesFound: namesFound.list(), Advisories: advisories}, nil
}
