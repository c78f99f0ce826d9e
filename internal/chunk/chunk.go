// Package chunk splits long bot output into transport-sized messages without
// breaking fenced code blocks.
package chunk

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultLimit leaves headroom under Discord's 2000-character cap.
	DefaultLimit = 1900

	fence = "```"
	// closeReserve is the worst-case closing suffix ("\n```") kept free while a fence is open.
	closeReserve = len("\n" + fence)
	// fenceMinLimit is the smallest limit at which fences are closed and
	// reopened across chunks; below it text is cut at rune boundaries only.
	fenceMinLimit = 16
)

// piece is one output chunk: injected fence reopen header, original text, injected fence close.
type piece struct {
	prefix string
	body   string
	suffix string
}

func (p piece) String() string {
	return p.prefix + p.body + p.suffix
}

// Split breaks text into chunks of at most limit bytes. Lines are kept whole
// where possible; a line longer than the limit is cut at a rune boundary.
// When a chunk boundary falls inside a fenced block the fence is closed at the
// end of the chunk and reopened, with the same language tag, at the start of
// the next one. Text that already fits is returned unchanged. Limits too small
// to hold fence markers split plainly at rune boundaries; only a single rune
// wider than limit can then exceed it.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(text) <= limit {
		return []string{text}
	}
	pieces := split(text, limit)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.String()
	}
	return out
}

func split(text string, limit int) []piece {
	if limit < fenceMinLimit {
		return hardSplit(text, limit)
	}

	var (
		pieces []piece
		body   strings.Builder
		prefix string
		open   bool
		lang   string
	)

	reserve := func(isOpen bool) int {
		if isOpen {
			return closeReserve
		}
		return 0
	}
	header := func() string {
		if !open {
			return ""
		}
		tag := lang
		if len(fence)+len(tag)+1+closeReserve > limit/2 {
			tag = ""
		}
		return fence + tag + "\n"
	}
	flush := func(final bool) {
		if body.Len() == 0 {
			return
		}
		p := piece{prefix: prefix, body: body.String()}
		if open && !final {
			if strings.HasSuffix(p.body, "\n") {
				p.suffix = fence
			} else {
				p.suffix = "\n" + fence
			}
		}
		pieces = append(pieces, p)
		body.Reset()
		prefix = header()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}

		openAfter, langAfter := open, lang
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, fence) {
			if open {
				openAfter, langAfter = false, ""
			} else {
				openAfter, langAfter = true, strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			}
		}

		// A line that fits in a fresh chunk moves there whole; one that
		// cannot fit anywhere is cut starting in the current chunk.
		if len(prefix)+body.Len()+len(line)+reserve(openAfter) > limit &&
			len(header())+len(line)+reserve(openAfter) <= limit {
			flush(false)
		}

		for len(prefix)+body.Len()+len(line)+reserve(openAfter) > limit {
			avail := limit - len(prefix) - body.Len() - max(reserve(open), reserve(openAfter))
			if avail < utf8.UTFMax && body.Len() > 0 {
				flush(false)
				continue
			}
			cut := runeCut(line, avail)
			body.WriteString(line[:cut])
			line = line[cut:]
			flush(false)
		}
		body.WriteString(line)
		open, lang = openAfter, langAfter
	}
	flush(true)

	return pieces
}

// hardSplit cuts text into consecutive runs of at most limit bytes.
func hardSplit(text string, limit int) []piece {
	var pieces []piece
	for text != "" {
		cut := runeCut(text, limit)
		pieces = append(pieces, piece{body: text[:cut]})
		text = text[cut:]
	}
	return pieces
}

// runeCut returns the largest n <= limit such that s[:n] ends on a rune
// boundary. It always returns at least one rune so progress is guaranteed.
func runeCut(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	if n == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return n
}
