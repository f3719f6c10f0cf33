package plan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const artifactBodyThreshold = 200

var producerCall = regexp.MustCompile(`(?s)produce_document\(\s*file_type\s*=\s*"([^"]*)"\s*,\s*content\s*=\s*"(.*)"\s*\)`)

var extensionByType = map[string]string{
	"markdown": ".md",
	"md":       ".md",
	"text":     ".txt",
	"txt":      ".txt",
	"json":     ".json",
	"csv":      ".csv",
	"html":     ".html",
	"python":   ".py",
	"go":       ".go",
}

// FileDetector implements ArtifactDetector against a real filesystem
// directory, the default used in production (tests may substitute a
// stub).
type FileDetector struct {
	nowFn func() time.Time
}

// NewFileDetector builds a FileDetector using the real clock.
func NewFileDetector() *FileDetector {
	return &FileDetector{nowFn: time.Now}
}

// Detect runs three techniques in order: an explicit
// produce_document(...) call, a length-based fallback dump, and
// URL/path scraping. Materialized files are created under dir; the
// returned slice already includes scraped URLs/paths so Execute can
// append it directly to the plan's deduplicated artifact list.
func (d *FileDetector) Detect(output, dir string) []string {
	var found []string

	if match := producerCall.FindStringSubmatch(output); match != nil {
		if path := d.materializeDeclared(match[1], match[2], dir); path != "" {
			found = append(found, path)
		}
	} else if len(strings.TrimSpace(output)) > artifactBodyThreshold {
		if path := d.materializePlain(output, dir); path != "" {
			found = append(found, path)
		}
	}

	found = append(found, scrapeURLsAndPaths(output)...)
	return found
}

func (d *FileDetector) materializeDeclared(fileType, content, dir string) string {
	ext, known := extensionByType[strings.ToLower(strings.TrimSpace(fileType))]
	header := ""
	if !known {
		ext = ".md"
		header = fmt.Sprintf("<!-- original declared type: %s -->\n", fileType)
	}
	// Deterministic on content+type so a repeated invocation with the same
	// declared call resolves to the same path rather than duplicating the
	// artifact on retry.
	name := fmt.Sprintf("artifact-%s%s", shortHash(fileType+"|"+content), ext)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if err := writeArtifact(path, header+content); err != nil {
		return ""
	}
	return path
}

func (d *FileDetector) materializePlain(output, dir string) string {
	name := fmt.Sprintf("output-%s.md", d.nowFn().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)
	if err := writeArtifact(path, output); err != nil {
		return ""
	}
	return path
}

func writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

var pathMentionPattern = regexp.MustCompile(`(?:[./][\w./-]+\.\w{1,5})`)

func scrapeURLsAndPaths(output string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range urlPattern.FindAllString(output, -1) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, p := range pathMentionPattern.FindAllString(output, -1) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
