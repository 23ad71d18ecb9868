package lsp

import (
	"strings"
	"unicode/utf16"
)

// Scanners report columns as byte offsets into a line. Positions on the wire
// count UTF-16 code units.

// utf16Column converts a byte offset in line to UTF-16 code units.
func utf16Column(line string, byteCol int) int {
	byteCol = min(max(byteCol, 0), len(line))
	units := 0
	for _, r := range line[:byteCol] {
		units += runeUnits(r)
	}
	return units
}

// byteColumn converts a UTF-16 column in line to a byte offset. A column
// past the end of the line maps to len(line).
func byteColumn(line string, col int) int {
	units := 0
	for i, r := range line {
		if units >= col {
			return i
		}
		units += runeUnits(r)
	}
	return len(line)
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// splitLines splits text the way the scanners number lines.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
