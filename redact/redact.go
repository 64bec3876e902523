// Package redact scrubs secrets from diagnostic text before it reaches logs
// or error messages.
package redact

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// secretPattern matches high-entropy strings that may be secrets.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the Shannon entropy above which a token is treated as
// a credential. Typical API keys score above 5.0.
const entropyThreshold = 4.5

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

// region represents a byte range to redact.
type region struct{ start, end int }

// String replaces secrets in s with "REDACTED". A span is redacted when it
// is a high-entropy token or matches one of the gitleaks default rules.
func String(s string) string {
	regions := append(entropyRegions(s), detectorRegions(s)...)
	if len(regions) == 0 {
		return s
	}

	var b strings.Builder
	prev := 0
	for _, r := range mergeRegions(regions) {
		b.WriteString(s[prev:r.start])
		b.WriteString("REDACTED")
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

func entropyRegions(s string) []region {
	var regions []region
	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}
	return regions
}

// detectorRegions marks every occurrence of each secret gitleaks reports.
func detectorRegions(s string) []region {
	d := getDetector()
	if d == nil {
		return nil
	}
	var regions []region
	for _, f := range d.DetectString(s) {
		if f.Secret == "" {
			continue
		}
		for from := 0; ; {
			idx := strings.Index(s[from:], f.Secret)
			if idx < 0 {
				break
			}
			start := from + idx
			regions = append(regions, region{start, start + len(f.Secret)})
			from = start + len(f.Secret)
		}
	}
	return regions
}

func mergeRegions(regions []region) []region {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start > last.end {
			merged = append(merged, r)
			continue
		}
		last.end = max(last.end, r.end)
	}
	return merged
}

// Bytes is a convenience wrapper around String for []byte content.
func Bytes(b []byte) []byte {
	s := string(b)
	redacted := String(s)
	if redacted == s {
		return b
	}
	return []byte(redacted)
}

// sensitiveHeaders are always redacted in full, whatever their value looks like.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
}

// Headers returns a copy of h suitable for logging. Credentials-bearing
// headers are replaced outright; other values go through String.
func Headers(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = "REDACTED"
			continue
		}
		out[k] = String(v)
	}
	return out
}

// Snippet redacts b and truncates it to at most limit bytes, appending
// "..." when content was cut. Used to quote response bodies in errors.
func Snippet(b []byte, limit int) string {
	s := strings.TrimSpace(String(string(b)))
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	// Back up to a rune boundary.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
