package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/shared"
	"composer-repos/internal/types"
)

// GitDriver reads refs and composer.json files from a bare mirror of the
// repository kept under the cache directory.
type GitDriver struct {
	url      string
	mirror   string
	keepTemp bool

	mu          sync.Mutex
	initialized bool
	root        string
	tags        map[string]string
	branches    map[string]string
}

// NewGitDriver mirrors url into <cacheDir>/vcs. An empty cacheDir uses a
// temporary mirror that is removed by Close.
func NewGitDriver(url string, cacheDir string) *GitDriver {
	driver := &GitDriver{url: url}
	if cacheDir != "" {
		driver.mirror = filepath.Join(cacheDir, "vcs", SanitizeCacheKey(url)+".git")
	}
	return driver
}

func (d *GitDriver) URL() string {
	return d.url
}

func (d *GitDriver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if d.mirror == "" {
		dir, err := os.MkdirTemp("", "composer-repos-vcs-")
		if err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create temp directory for git mirror").
				WithCause(err)
		}
		d.mirror = filepath.Join(dir, "mirror.git")
		d.keepTemp = true
	}
	if _, err := os.Stat(filepath.Join(d.mirror, "HEAD")); err == nil {
		if _, err := d.git(ctx, "remote", "update", "--prune", "origin"); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(d.mirror), 0o755); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create vcs cache directory").
				WithCause(err)
		}
		cmd := exec.CommandContext(ctx, "git", "clone", "--mirror", "--quiet", d.url, d.mirror)
		if output, err := cmd.CombinedOutput(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("failed to clone " + d.url).
				WithCause(shared.CommandError(output, err))
		}
	}
	log.Ctx(ctx).Debug().Str("url", d.url).Str("mirror", d.mirror).Msg("git mirror ready")
	d.initialized = true
	return nil
}

// Close removes a temporary mirror.
func (d *GitDriver) Close() error {
	if !d.keepTemp {
		return nil
	}
	return os.RemoveAll(filepath.Dir(d.mirror))
}

func (d *GitDriver) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.mirror
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("git " + args[0] + " failed for " + d.url).
			WithCause(shared.CommandError(stderr.Bytes(), err))
	}
	return output, nil
}

// RootIdentifier returns the branch HEAD points at.
func (d *GitDriver) RootIdentifier(ctx context.Context) (string, error) {
	if d.root != "" {
		return d.root, nil
	}
	output, err := d.git(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		d.root = "master"
		return d.root, nil
	}
	d.root = strings.TrimSpace(string(output))
	return d.root, nil
}

// Tags maps tag names to commits; annotated tags are dereferenced.
func (d *GitDriver) Tags(ctx context.Context) (map[string]string, error) {
	if d.tags != nil {
		return d.tags, nil
	}
	refs, err := d.refs(ctx, "refs/tags", "%(refname:short) %(objectname) %(*objectname)")
	if err != nil {
		return nil, err
	}
	d.tags = refs
	return refs, nil
}

func (d *GitDriver) Branches(ctx context.Context) (map[string]string, error) {
	if d.branches != nil {
		return d.branches, nil
	}
	refs, err := d.refs(ctx, "refs/heads", "%(refname:short) %(objectname)")
	if err != nil {
		return nil, err
	}
	d.branches = refs
	return refs, nil
}

func (d *GitDriver) refs(ctx context.Context, prefix string, format string) (map[string]string, error) {
	output, err := d.git(ctx, "for-each-ref", "--format="+format, prefix)
	if err != nil {
		return nil, err
	}
	refs := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		commit := fields[1]
		if len(fields) > 2 {
			commit = fields[2]
		}
		refs[fields[0]] = commit
	}
	return refs, nil
}

// ComposerInformation returns (nil, nil) when identifier has no
// composer.json. A missing ref is reported as a 404 transport error so the
// repository treats it like any other missing file.
func (d *GitDriver) ComposerInformation(ctx context.Context, identifier string) (map[string]any, error) {
	if branch, ok := d.branches[identifier]; ok {
		identifier = branch
	}
	cmd := exec.CommandContext(ctx, "git", "cat-file", "-e", identifier+"^{commit}")
	cmd.Dir = d.mirror
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ports.TransportError{URL: d.url + "#" + identifier, Status: 404, Err: err}
	}
	output, err := d.git(ctx, "ls-tree", "--name-only", identifier, "composer.json")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(output)) == "" {
		return nil, nil
	}
	content, err := d.git(ctx, "show", identifier+":composer.json")
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("composer.json at %s in %s is invalid", identifier, d.url)).
			WithCause(err)
	}
	if _, ok := data["time"]; !ok {
		if stamp, err := d.git(ctx, "log", "-1", "--format=%at", identifier); err == nil {
			if seconds, err := strconv.ParseInt(strings.TrimSpace(string(stamp)), 10, 64); err == nil {
				data["time"] = time.Unix(seconds, 0).UTC().Format("2006-01-02 15:04:05")
			}
		}
	}
	return data, nil
}

func (d *GitDriver) Source(identifier string) types.SourceInfo {
	return types.SourceInfo{Type: "git", URL: d.url, Reference: identifier}
}

// Dist is nil: plain git repositories publish no archives.
func (d *GitDriver) Dist(string) *types.DistInfo {
	return nil
}

// GitDriverFactory hands out one GitDriver per repository url.
type GitDriverFactory struct {
	cacheDir string

	mu      sync.Mutex
	drivers map[string]*GitDriver
}

func NewGitDriverFactory(cacheDir string) *GitDriverFactory {
	return &GitDriverFactory{cacheDir: cacheDir, drivers: map[string]*GitDriver{}}
}

func (f *GitDriverFactory) Driver(config types.RepositoryConfig) (ports.VcsDriverPort, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("vcs repository url is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if driver, ok := f.drivers[config.URL]; ok {
		return driver, nil
	}
	driver := NewGitDriver(config.URL, f.cacheDir)
	f.drivers[config.URL] = driver
	return driver, nil
}

// Close removes temporary mirrors.
func (f *GitDriverFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, driver := range f.drivers {
		if err := driver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ ports.VcsDriverFactoryPort = (*GitDriverFactory)(nil)
