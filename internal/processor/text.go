package processor

import (
	"sort"
	"strconv"
	"strings"
)

// PageSeparator is appended after every page's text in the full document text.
const PageSeparator = "\n\n\n"

// OCRText is the OCR stage output.
type OCRText struct {
	// Keys lists every page key in page order, including pages with no text.
	Keys []string
	// Raw is the text exactly as returned by OCR.
	Raw map[string]string
	// Pages is the line-break-normalized text submitted to NER.
	Pages map[string]string
	// FullText is the raw page texts concatenated in page order.
	FullText string
}

// BuildOCRText assembles the OCR output for the given page keys. Keys missing
// from raw are treated as empty pages.
func BuildOCRText(keys []string, raw map[string]string) *OCRText {
	ordered := append([]string(nil), keys...)
	SortPageKeys(ordered)

	t := &OCRText{
		Keys:  ordered,
		Raw:   make(map[string]string, len(ordered)),
		Pages: make(map[string]string, len(ordered)),
	}

	var full strings.Builder
	for _, key := range ordered {
		text := raw[key]
		t.Raw[key] = text
		t.Pages[key] = NormalizeLineBreaks(text)
		full.WriteString(text)
		full.WriteString(PageSeparator)
	}
	t.FullText = full.String()
	return t
}

// NERSources is the per-page text job input: page<N> → {input.txt: text}.
func (t *OCRText) NERSources() map[string]map[string]string {
	sources := make(map[string]map[string]string, len(t.Keys))
	for _, key := range t.Keys {
		sources[key] = map[string]string{"input.txt": t.Pages[key]}
	}
	return sources
}

// NormalizeLineBreaks replaces every isolated line break (\n, \r\n, \r or \n\r
// with no other line-break character on either side) by a single space.
// Runs of two or more breaks are paragraph boundaries and stay untouched.
func NormalizeLineBreaks(s string) string {
	isBreak := func(i int) bool { return i >= 0 && i < len(s) && (s[i] == '\r' || s[i] == '\n') }

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if (c != '\r' && c != '\n') || isBreak(i-1) {
			b.WriteByte(c)
			i++
			continue
		}

		// Two-byte forms are tried before the bare byte for \r, after it for \n.
		var candidates []int
		if c == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				candidates = append(candidates, 2)
			}
			candidates = append(candidates, 1)
		} else {
			candidates = append(candidates, 1)
			if i+1 < len(s) && s[i+1] == '\r' {
				candidates = append(candidates, 2)
			}
		}

		matched := 0
		for _, n := range candidates {
			if !isBreak(i + n) {
				matched = n
				break
			}
		}
		if matched == 0 {
			b.WriteByte(c)
			i++
			continue
		}
		b.WriteByte(' ')
		i += matched
	}
	return b.String()
}

// SortPageKeys orders page<N> keys by N. Keys of any other shape sort after
// them, lexically.
func SortPageKeys(keys []string) {
	sort.SliceStable(keys, func(a, b int) bool {
		na, okA := pageNumber(keys[a])
		nb, okB := pageNumber(keys[b])
		switch {
		case okA && okB:
			return na < nb
		case okA != okB:
			return okA
		default:
			return keys[a] < keys[b]
		}
	})
}

func pageNumber(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "page")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
