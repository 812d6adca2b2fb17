// Package formatter renders a commit into the coloured IRC PRIVMSG lines
// described in spec §4.4 (component C5): common-directory collapsing,
// mIRC-style colourisation, and length-bounded line chunking.
package formatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kgbnotify/kgb/internal/commit"
)

// mIRC control codes.
const (
	codeBold      = "\x02"
	codeUnderline = "\x1f"
	codeReverse   = "\x16"
	codeColor     = "\x03"
	codeReset     = "\x0f"
)

// Colors names every colourable style and its default mIRC colour index or
// style code (§4.4 table). Values are either a bare style token (bold,
// underline, reverse) or a two-digit mIRC colour index.
type Colors map[string]string

// DefaultColors are the built-in defaults from §4.4.
var DefaultColors = Colors{
	"repository":   "bold",
	"revision":     "bold",
	"path":         "10", // teal
	"author":       "03", // green
	"branch":       "05", // brown
	"module":       "06", // purple
	"addition":     "03", // green
	"modification": "10", // teal
	"deletion":     "bold+04",
	"replacement":  "reverse",
	"prop_change":  "underline",
}

// mircColorIndex maps named colours to their two-digit mIRC index (§4.4:
// black/navy/green/red/brown/purple/orange/yellow/lime/teal/aqua/blue/
// fuchsia/silver/white, 01..16 skipping 15).
var mircColorIndex = map[string]string{
	"black": "01", "navy": "02", "green": "03", "red": "04",
	"brown": "05", "purple": "06", "orange": "07", "yellow": "08",
	"lime": "09", "teal": "10", "aqua": "11", "blue": "12",
	"fuchsia": "13", "silver": "14", "white": "16",
}

// style renders text wrapped in the escape codes for the given style token,
// which may combine a bold/underline/reverse prefix with a "+"-joined colour
// name or literal two-digit index (e.g. "bold+04" or "bold+red").
func style(styleSpec, text string) string {
	if styleSpec == "" {
		return text
	}
	var prefix strings.Builder
	colourPart := ""
	for _, tok := range strings.Split(styleSpec, "+") {
		switch tok {
		case "bold":
			prefix.WriteString(codeBold)
		case "underline":
			prefix.WriteString(codeUnderline)
		case "reverse":
			prefix.WriteString(codeReverse)
		default:
			colourPart = tok
		}
	}
	if colourPart != "" {
		idx := colourPart
		if _, err := strconv.Atoi(colourPart); err != nil {
			if mapped, ok := mircColorIndex[colourPart]; ok {
				idx = mapped
			}
		}
		prefix.WriteString(codeColor + idx)
	}
	if prefix.Len() == 0 {
		return text
	}
	return prefix.String() + text + codeReset
}

// Formatter renders commits into PRIVMSG lines using a fixed colour palette.
type Formatter struct {
	colors Colors
}

// New builds a Formatter. A nil or empty overrides map falls back entirely
// to DefaultColors; otherwise overrides are merged on top of the defaults.
func New(overrides Colors) *Formatter {
	merged := make(Colors, len(DefaultColors))
	for k, v := range DefaultColors {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Formatter{colors: merged}
}

func (f *Formatter) styleFor(name, text string) string {
	return style(f.colors[name], text)
}

// actionStyle maps a Change's action to its colour-table key.
func actionStyle(a commit.Action) string {
	switch a {
	case commit.ActionAdded:
		return "addition"
	case commit.ActionModified:
		return "modification"
	case commit.ActionDeleted:
		return "deletion"
	case commit.ActionReplaced:
		return "replacement"
	default:
		return "modification"
	}
}

// collapseResult is the outcome of the common-directory collapse (§4.4 step 2).
type collapseResult struct {
	Prefix string // common directory, without leading/trailing slash; empty if none
	Paths  []string
}

// collapseCommonDirectory finds the ancestor directory covering the most
// paths (ties broken by preferring the longer directory) and strips it as a
// common prefix. Fewer than two paths ⇒ no collapse.
func collapseCommonDirectory(paths []string) collapseResult {
	if len(paths) < 2 {
		return collapseResult{Paths: paths}
	}

	counts := make(map[string]int)
	for _, p := range paths {
		for _, dir := range ancestorDirs(p) {
			counts[dir]++
		}
	}

	best := ""
	bestCount := 0
	for dir, count := range counts {
		if count > bestCount || (count == bestCount && len(dir) > len(best)) {
			best = dir
			bestCount = count
		}
	}
	if best == "" || bestCount < 2 {
		return collapseResult{Paths: paths}
	}

	stripped := make([]string, len(paths))
	for i, p := range paths {
		abs := "/" + strings.TrimPrefix(p, "/")
		rest := strings.TrimPrefix(abs, "/"+best+"/")
		if rest == abs {
			rest = strings.TrimPrefix(p, best+"/")
		}
		stripped[i] = rest
	}
	return collapseResult{Prefix: best, Paths: stripped}
}

// ancestorDirs returns every ancestor directory of p (absolute, no leading
// slash in the result), innermost first.
func ancestorDirs(p string) []string {
	p = strings.TrimPrefix(p, "/")
	parts := strings.Split(p, "/")
	if len(parts) <= 1 {
		return nil
	}
	var dirs []string
	for i := len(parts) - 1; i >= 1; i-- {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	return dirs
}

// distinctDirs counts the distinct parent directories across paths, for the
// "(N files in D dirs)" summary.
func distinctDirs(paths []string) int {
	seen := make(map[string]struct{})
	for _, p := range paths {
		p = strings.TrimPrefix(p, "/")
		if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
			seen[p[:idx]] = struct{}{}
		} else {
			seen[""] = struct{}{}
		}
	}
	return len(seen)
}

const summaryThreshold = 4

// changeMarkerString renders ch's canonical "(A)path" marker text (mirroring
// commit.Change.String, bare "M" abbreviated to the path) against path,
// which may already have had a common directory collapsed out of it.
func changeMarkerString(ch commit.Change, path string) string {
	if ch.Action == commit.ActionModified && !ch.PropChange {
		return path
	}
	marker := string(ch.Action)
	if ch.PropChange {
		marker += "+"
	}
	return fmt.Sprintf("(%s)%s", marker, path)
}

// pathString renders the colourised path portion of line 0 (§4.4 step 3).
func (f *Formatter) pathString(changes []commit.Change) string {
	if len(changes) > summaryThreshold {
		rawPaths := make([]string, len(changes))
		for i, ch := range changes {
			rawPaths[i] = ch.Path
		}
		d := distinctDirs(rawPaths)
		if d > 1 {
			return fmt.Sprintf("(%d files in %d dirs)", len(changes), d)
		}
		return fmt.Sprintf("(%d files)", len(changes))
	}

	rawPaths := make([]string, len(changes))
	for i, ch := range changes {
		rawPaths[i] = ch.Path
	}
	collapsed := collapseCommonDirectory(rawPaths)

	parts := make([]string, len(changes))
	for i, ch := range changes {
		path := strings.TrimPrefix(collapsed.Paths[i], "/")
		text := changeMarkerString(ch, path)
		rendered := f.styleFor("path", text)
		if ch.PropChange {
			rendered = style(f.colors["prop_change"], rendered)
		}
		parts[i] = f.styleFor(actionStyle(ch.Action), rendered)
	}

	joined := strings.Join(parts, " ")
	if collapsed.Prefix != "" {
		return f.styleFor("path", collapsed.Prefix+"/") + joined
	}
	return joined
}

// Lines renders a commit into its PRIVMSG payload lines (line 0 plus one
// per non-empty log line), chunked to fit within maxLineBytes (§4.4 steps
// 4-6). repo is the plain repo label; its colourised form starts line 0
// and every log line and is the chunk-continuation prefix.
func (f *Formatter) Lines(repo string, c commit.Commit, revPrefix string, maxLineBytes int) []string {
	repoStyled := f.styleFor("repository", repo)

	var b strings.Builder
	b.WriteString(repoStyled)
	b.WriteByte(' ')
	b.WriteString(f.styleFor("author", c.Author))
	if c.Branch != "" {
		b.WriteByte(' ')
		b.WriteString(f.styleFor("branch", c.Branch))
	}
	b.WriteByte(' ')
	b.WriteString(f.styleFor("revision", revPrefix+c.ID))
	b.WriteByte(' ')
	if c.Module != "" {
		b.WriteString(f.styleFor("module", c.Module))
		b.WriteByte(' ')
	}
	b.WriteString(f.pathString(c.Changes))

	lines := []string{b.String()}
	for _, logLine := range strings.Split(c.Log, "\n") {
		if logLine == "" {
			continue
		}
		lines = append(lines, repoStyled+" "+logLine)
	}

	var chunked []string
	for _, line := range lines {
		chunked = append(chunked, chunkLine(line, repoStyled, maxLineBytes)...)
	}
	return chunked
}

// chunkLine splits line into pieces no longer than maxBytes, prefixing each
// continuation chunk after the first with the repo label (§4.4 step 6).
func chunkLine(line, repoPrefix string, maxBytes int) []string {
	if maxBytes <= 0 || len(line) <= maxBytes {
		return []string{line}
	}

	var chunks []string
	remaining := line
	first := true
	for len(remaining) > 0 {
		prefix := ""
		if !first {
			prefix = repoPrefix + " "
		}
		budget := maxBytes - len(prefix)
		if budget <= 0 {
			budget = maxBytes
		}
		cut := budget
		if cut > len(remaining) {
			cut = len(remaining)
		}
		chunks = append(chunks, prefix+remaining[:cut])
		remaining = remaining[cut:]
		first = false
	}
	return chunks
}

// MaxLineBytes computes MAX from §4.4 step 6 for a set of channel names.
func MaxLineBytes(channels []string) int {
	longest := 0
	for _, ch := range channels {
		if len(ch) > longest {
			longest = len(ch)
		}
	}
	return 400 - len("PRIVMSG ") - longest
}
