// Package patterns expands glob expressions and explicit paths into the set
// of regular files that exist at the moment of the call.
package patterns

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize número de padrões compilados mantidos em cache
const DefaultCacheSize = 256

const metaChars = "*?[{"

// Resolver expande padrões. Seguro para uso concorrente.
type Resolver struct {
	cache *lru.Cache[string, []glob.Glob]
}

// NewResolver cria um resolver com cache LRU de matchers compilados
func NewResolver(cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []glob.Glob](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &Resolver{cache: cache}, nil
}

// Resolve returns the deduplicated, sorted absolute paths of existing regular
// files matched by patterns. Patterns that match nothing contribute nothing;
// malformed patterns are reported in the joined error while the remaining
// patterns are still resolved.
func (r *Resolver) Resolve(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var errs []error

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		matches, err := r.expand(pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				continue
			}
			if !isRegular(abs) {
				continue
			}
			seen[abs] = struct{}{}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)

	return files, errors.Join(errs...)
}

func (r *Resolver) expand(pattern string) ([]string, error) {
	if !HasMeta(pattern) {
		return []string{pattern}, nil
	}
	// filepath.Glob não conhece "**" nem alternativas {a,b}
	if !strings.Contains(pattern, "**") && !strings.Contains(pattern, "{") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return matches, nil
	}
	return r.walk(pattern)
}

// walk percorre a base estática do padrão e testa cada arquivo com gobwas/glob.
// Sem "**" a descida para na profundidade do próprio padrão.
func (r *Resolver) walk(pattern string) ([]string, error) {
	abs, err := filepath.Abs(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	slashed := filepath.ToSlash(abs)

	matchers, err := r.compile(slashed)
	if err != nil {
		return nil, err
	}

	maxDepth := -1
	if !strings.Contains(slashed, "**") {
		maxDepth = strings.Count(slashed, "/")
	}

	root := Base(abs)
	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// diretórios ilegíveis são ignorados
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		candidate := filepath.ToSlash(path)
		if d.IsDir() {
			if maxDepth >= 0 && path != root && strings.Count(candidate, "/") >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		for _, g := range matchers {
			if g.Match(candidate) {
				matches = append(matches, path)
				break
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}
	return matches, nil
}

// compile compila o padrão e a variante em que "/**/" casa com zero diretórios
func (r *Resolver) compile(pattern string) ([]glob.Glob, error) {
	if cached, ok := r.cache.Get(pattern); ok {
		return cached, nil
	}

	variants := []string{pattern}
	if collapsed := strings.ReplaceAll(pattern, "/**/", "/"); collapsed != pattern {
		variants = append(variants, collapsed)
	}

	matchers := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}

	r.cache.Add(pattern, matchers)
	return matchers, nil
}

// HasMeta informa se o padrão contém caracteres de glob
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, metaChars)
}

// Base returns the longest leading directory of pattern that contains no
// glob metacharacters. For an explicit path it is the path's directory.
func Base(pattern string) string {
	clean := filepath.Clean(pattern)
	if !HasMeta(clean) {
		return filepath.Dir(clean)
	}

	parts := strings.Split(clean, string(filepath.Separator))
	var static []string
	for _, p := range parts {
		if HasMeta(p) {
			break
		}
		static = append(static, p)
	}
	if len(static) == 0 {
		return "."
	}
	base := strings.Join(static, string(filepath.Separator))
	if base == "" {
		return string(filepath.Separator)
	}
	return base
}

// CommonAncestor returns the deepest directory containing every path. Paths
// are compared component by component, so /a/bc is not under /a/b.
func CommonAncestor(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	split := func(p string) []string {
		return strings.Split(filepath.Clean(p), string(filepath.Separator))
	}

	common := split(paths[0])
	for _, p := range paths[1:] {
		parts := split(p)
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}

	if len(common) == 0 {
		return ""
	}
	joined := strings.Join(common, string(filepath.Separator))
	if joined == "" {
		return string(filepath.Separator)
	}
	return joined
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
