package execsession

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncatingCollector accumulates bytes up to capBytes, keeping a head
// prefix and a sliding tail suffix, and produces a middle-truncated
// rendering on Finalize whose "…N tokens truncated…" marker is
// self-consistent with the bytes actually dropped.
//
// Grounded on the TruncatingCollector in
// _examples/original_source/code-rs/core/src/exec_command/session_manager.rs.
type TruncatingCollector struct {
	capBytes   int
	totalBytes uint64
	prefix     []byte
	suffix     []byte // always holds at most the last capBytes bytes seen
}

// NewTruncatingCollector returns a collector capped at capBytes.
func NewTruncatingCollector(capBytes int) *TruncatingCollector {
	return &TruncatingCollector{capBytes: capBytes}
}

// Push appends chunk. Safe to call with any chunk sizing; the final
// result is identical to pushing the same bytes in one call.
func (c *TruncatingCollector) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.totalBytes += uint64(len(chunk))

	if len(c.prefix) < c.capBytes {
		remaining := c.capBytes - len(c.prefix)
		take := remaining
		if take > len(chunk) {
			take = len(chunk)
		}
		c.prefix = append(c.prefix, chunk[:take]...)
	}

	if c.capBytes > 0 {
		c.suffix = append(c.suffix, chunk...)
		if len(c.suffix) > c.capBytes {
			c.suffix = append([]byte(nil), c.suffix[len(c.suffix)-c.capBytes:]...)
		}
	}
}

func (c *TruncatingCollector) suffixBytes() []byte {
	return c.suffix
}

// Finalize renders the collected bytes, returning the text and, if
// truncation occurred, the original estimated token count
// (ceil(total_bytes/4)).
func (c *TruncatingCollector) Finalize() (string, *uint64) {
	estTokens := ceilDiv4(c.totalBytes)

	if c.capBytes == 0 {
		if c.totalBytes == 0 {
			return "", nil
		}
		return fmt.Sprintf("…%d tokens truncated…", estTokens), &estTokens
	}

	if c.totalBytes <= uint64(c.capBytes) {
		return string(c.prefix), nil
	}

	prefixStr := string(c.prefix)
	suffixStr := string(c.suffixBytes())

	guessTokens := estTokens
	for i := 0; i < 4; i++ {
		marker := fmt.Sprintf("…%d tokens truncated…", guessTokens)
		markerLen := len(marker) + 1 // the marker line ends with '\n'
		if markerLen >= c.capBytes {
			return fmt.Sprintf("…%d tokens truncated…", estTokens), &estTokens
		}
		keepBudget := c.capBytes - markerLen
		leftBudget := keepBudget / 2
		rightBudget := keepBudget - leftBudget

		prefixSlice := pickPrefixSlice(prefixStr, leftBudget)
		suffixSlice := pickSuffixSlice(suffixStr, rightBudget)
		keptContentBytes := uint64(len(prefixSlice) + len(suffixSlice))
		var truncatedContentBytes uint64
		if c.totalBytes > keptContentBytes {
			truncatedContentBytes = c.totalBytes - keptContentBytes
		}
		newTokens := ceilDiv4(truncatedContentBytes)
		if newTokens == guessTokens {
			var b strings.Builder
			b.Grow(markerLen + int(keptContentBytes) + 1)
			b.WriteString(prefixSlice)
			b.WriteString(marker)
			b.WriteByte('\n')
			b.WriteString(suffixSlice)
			return b.String(), &estTokens
		}
		guessTokens = newTokens
	}

	marker := fmt.Sprintf("…%d tokens truncated…", guessTokens)
	markerLen := len(marker) + 1 // the marker line ends with '\n'
	if markerLen >= c.capBytes {
		return fmt.Sprintf("…%d tokens truncated…", estTokens), &estTokens
	}
	keepBudget := c.capBytes - markerLen
	leftBudget := keepBudget / 2
	rightBudget := keepBudget - leftBudget
	prefixSlice := pickPrefixSlice(prefixStr, leftBudget)
	suffixSlice := pickSuffixSlice(suffixStr, rightBudget)

	var b strings.Builder
	b.Grow(markerLen + len(prefixSlice) + len(suffixSlice) + 1)
	b.WriteString(prefixSlice)
	b.WriteString(marker)
	b.WriteByte('\n')
	b.WriteString(suffixSlice)
	return b.String(), &estTokens
}

func ceilDiv4(n uint64) uint64 {
	return (n + 3) / 4
}

// pickPrefixSlice returns the longest prefix of input that fits within
// leftBudget bytes, preferring to cut at the last newline within budget.
func pickPrefixSlice(input string, leftBudget int) string {
	if leftBudget >= len(input) {
		return input
	}
	head := input[:leftBudget]
	if idx := strings.LastIndexByte(head, '\n'); idx >= 0 {
		return input[:idx+1]
	}
	return truncateOnBoundary(input, leftBudget)
}

// pickSuffixSlice returns the longest suffix of input that fits within
// rightBudget bytes, preferring to cut just after the first newline
// within budget.
func pickSuffixSlice(input string, rightBudget int) string {
	if rightBudget >= len(input) {
		return input
	}
	tailStart := len(input) - rightBudget
	tail := input[tailStart:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 {
		return input[tailStart+idx+1:]
	}
	idx := tailStart
	for idx < len(input) && !utf8.RuneStart(input[idx]) {
		idx++
	}
	return input[idx:]
}

func truncateOnBoundary(input string, maxLen int) string {
	if len(input) <= maxLen {
		return input
	}
	end := maxLen
	for end > 0 && !utf8.RuneStart(input[end]) {
		end--
	}
	return input[:end]
}
