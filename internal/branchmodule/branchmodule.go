// Package branchmodule extracts a branch and module label from a commit
// path using user-supplied regular expressions (spec §9 "Dynamic-code regex
// evaluation"). The original evaluates these patterns in a sandboxed
// scripting engine; here they are plain compiled regexes, each required to
// expose exactly two capture groups.
package branchmodule

import (
	"fmt"
	"regexp"
)

// Rule is one compiled branch/module extraction pattern.
type Rule struct {
	re   *regexp.Regexp
	swap bool
}

// Compile validates and compiles pattern, rejecting any regex that does not
// expose exactly two capture groups (§9).
func Compile(pattern string, swap bool) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("branchmodule: invalid pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() != 2 {
		return Rule{}, fmt.Errorf("branchmodule: pattern %q must expose exactly two capture groups, got %d", pattern, re.NumSubexp())
	}
	return Rule{re: re, swap: swap}, nil
}

// Result is the outcome of applying a set of rules to one path.
type Result struct {
	Branch string
	Module string
	Path   string // path with the matched prefix stripped
	Matched bool
}

// Extract applies rules in order to path; the first rule whose regex
// matches wins (§9: "apply sequentially, first full match ... wins"). After
// a match, the matched prefix is stripped from the returned path. swap on
// the matching rule exchanges which capture group is branch vs. module.
func Extract(rules []Rule, path string) Result {
	for _, r := range rules {
		loc := r.re.FindStringSubmatchIndex(path)
		if loc == nil {
			continue
		}
		groups := r.re.FindStringSubmatch(path)
		if len(groups) != 3 {
			continue
		}
		first, second := groups[1], groups[2]
		if r.swap {
			first, second = second, first
		}
		return Result{
			Branch:  first,
			Module:  second,
			Path:    path[loc[1]:],
			Matched: true,
		}
	}
	return Result{Path: path}
}

// ExtractAcrossPaths applies rules across every path, per §9 "apply ...
// across all paths"; rules are tried in order, and the first rule that
// matches any path (at the first such path, in order) determines the
// branch/module for the whole commit, and every path has the matched
// prefix stripped (paths that did not themselves match are left as-is
// beyond whatever the winning rule stripped from them individually).
func ExtractAcrossPaths(rules []Rule, paths []string) (branch, module string, stripped []string) {
	stripped = make([]string, len(paths))
	copy(stripped, paths)

	for _, r := range rules {
		for _, p := range paths {
			loc := r.re.FindStringSubmatchIndex(p)
			if loc == nil {
				continue
			}
			groups := r.re.FindStringSubmatch(p)
			if len(groups) != 3 {
				continue
			}
			first, second := groups[1], groups[2]
			if r.swap {
				first, second = second, first
			}
			branch, module = first, second
			for j, pp := range paths {
				stripped[j] = stripPrefix(r, pp)
			}
			return branch, module, stripped
		}
	}
	return "", "", stripped
}

func stripPrefix(r Rule, path string) string {
	loc := r.re.FindStringSubmatchIndex(path)
	if loc == nil {
		return path
	}
	return path[loc[1]:]
}
