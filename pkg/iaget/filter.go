// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	glob "github.com/ryanuber/go-glob"
)

// PlanItem is one File Entry that survived the Filter Engine, paired with
// the relative destination path it will be written to (spec §4.4, §4.5).
type PlanItem struct {
	File FileEntry
	Dest string // sanitized, "/"-separated path relative to the item's output dir
}

// applyFilter runs every File Entry in files through f and returns the
// surviving items in the order they appeared in the metadata document
// (spec §4.4: "iteration order matches the order files are listed in the
// metadata document").
func applyFilter(files []FileEntry, f Filter) ([]PlanItem, error) {
	matcher, err := newPatternMatcher(f)
	if err != nil {
		return nil, err
	}

	var out []PlanItem
	for _, fe := range files {
		ok, err := matcher.matches(fe)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dest, err := sanitizeRelPath(fe.Name)
		if err != nil {
			continue // unsafe names are silently excluded, not fatal
		}
		out = append(out, PlanItem{File: fe, Dest: dest})
	}
	return out, nil
}

// patternMatcher compiles a Filter once and evaluates it against many files.
type patternMatcher struct {
	f Filter

	includeRe []*regexp.Regexp
	excludeRe []*regexp.Regexp
	inSubRe   []*regexp.Regexp
	exSubRe   []*regexp.Regexp
}

func newPatternMatcher(f Filter) (*patternMatcher, error) {
	pm := &patternMatcher{f: f}
	if !f.UseRegex {
		return pm, nil
	}
	var err error
	if pm.includeRe, err = compileAll(f.IncludePatterns); err != nil {
		return nil, err
	}
	if pm.excludeRe, err = compileAll(f.ExcludePatterns); err != nil {
		return nil, err
	}
	if pm.inSubRe, err = compileAll(f.IncludeSubfolders); err != nil {
		return nil, err
	}
	if pm.exSubRe, err = compileAll(f.ExcludeSubfolders); err != nil {
		return nil, err
	}
	return pm, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		// The POSIX grammar has no (?i) flag, so the pattern is validated
		// as POSIX-extended and then compiled case-insensitively with
		// leftmost-longest matching.
		if _, err := regexp.CompilePOSIX(p); err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", p, err)
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", p, err)
		}
		re.Longest()
		out = append(out, re)
	}
	return out, nil
}

// matches implements spec §4.4's ordered predicate chain: source gating,
// exclude-wins name/subfolder matching, then size bounds.
func (pm *patternMatcher) matches(fe FileEntry) (bool, error) {
	if !pm.sourceAllowed(fe.Source) {
		return false, nil
	}

	base := path.Base(fe.Name)
	parent := path.Dir(fe.Name)
	if parent == "." {
		parent = ""
	}

	if pm.nameMatches(pm.f.ExcludePatterns, pm.excludeRe, base) {
		return false, nil
	}
	if pm.subMatches(pm.f.ExcludeSubfolders, pm.exSubRe, parent) {
		return false, nil
	}
	if len(pm.f.ExcludeFormats) > 0 && formatMatches(pm.f.ExcludeFormats, fe) {
		return false, nil
	}

	if len(pm.f.IncludePatterns) > 0 && !pm.nameMatches(pm.f.IncludePatterns, pm.includeRe, base) {
		return false, nil
	}
	if len(pm.f.IncludeSubfolders) > 0 && !pm.subMatches(pm.f.IncludeSubfolders, pm.inSubRe, parent) {
		return false, nil
	}
	if len(pm.f.IncludeFormats) > 0 && !formatMatches(pm.f.IncludeFormats, fe) {
		return false, nil
	}

	if !sizeAllowed(fe.Size, pm.f.MinSize, pm.f.MaxSize) {
		return false, nil
	}
	return true, nil
}

func (pm *patternMatcher) sourceAllowed(source string) bool {
	switch source {
	case "original":
		return pm.f.IncludeOriginal
	case "derivative":
		return pm.f.IncludeDerivative
	case "metadata":
		return pm.f.IncludeMetadata
	default:
		return pm.f.IncludeOriginal
	}
}

func (pm *patternMatcher) nameMatches(patterns []string, compiled []*regexp.Regexp, basename string) bool {
	if pm.f.UseRegex {
		for _, re := range compiled {
			if re.MatchString(basename) {
				return true
			}
		}
		return false
	}
	lower := strings.ToLower(basename)
	for _, p := range patterns {
		if glob.Glob(strings.ToLower(p), lower) {
			return true
		}
	}
	return false
}

func (pm *patternMatcher) subMatches(patterns []string, compiled []*regexp.Regexp, parent string) bool {
	if pm.f.UseRegex {
		for _, re := range compiled {
			if re.MatchString(parent) {
				return true
			}
		}
		return false
	}
	lowerParent := strings.ToLower(parent)
	for _, p := range patterns {
		p = strings.ToLower(strings.Trim(p, "/"))
		if p == "" {
			continue
		}
		if lowerParent == p || strings.HasPrefix(lowerParent, p+"/") {
			return true
		}
		if ok, _ := doublestar.Match(p, lowerParent); ok {
			return true
		}
	}
	return false
}

func formatMatches(patterns []string, fe FileEntry) bool {
	ext := strings.TrimPrefix(path.Ext(fe.Name), ".")
	format := fe.Format
	for _, p := range patterns {
		p = strings.ToLower(p)
		if strings.EqualFold(ext, p) || strings.EqualFold(format, p) {
			return true
		}
	}
	return false
}

// sizeAllowed implements spec §4.4's unknown-size rule: a file with no
// declared size passes only when neither bound is set.
func sizeAllowed(size int64, min, max *int64) bool {
	if size < 0 {
		return min == nil && max == nil
	}
	if min != nil && size < *min {
		return false
	}
	if max != nil && size > *max {
		return false
	}
	return true
}
