package localpipe

import "strings"

// minSentence is the shortest piece worth a synthesis round-trip.
// Fragments like "Dr." or "OK." are merged into the next piece.
const minSentence = 12

// splitSentences breaks reply text into speakable pieces at sentence
// boundaries so synthesis can start before the whole reply is spoken.
// A boundary is a terminal punctuation mark followed by whitespace or
// end of text; newlines are boundaries too.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Consume runs of punctuation and trailing quotes so
			// "Really?!" and `he said."` split after the close.
			for i+1 < len(runes) && isTrailer(runes[i+1]) {
				i++
			}
			if i+1 < len(runes) && !isSpace(runes[i+1]) {
				continue
			}
			pieces = appendPiece(pieces, string(runes[start:i+1]))
			start = i + 1
		case '\n':
			pieces = appendPiece(pieces, string(runes[start:i]))
			start = i + 1
		}
	}
	if start < len(runes) {
		pieces = appendPiece(pieces, string(runes[start:]))
	}

	return pieces
}

// appendPiece adds a trimmed piece, merging it with a too-short
// predecessor.
func appendPiece(pieces []string, piece string) []string {
	piece = strings.TrimSpace(piece)
	if piece == "" {
		return pieces
	}
	if n := len(pieces); n > 0 && len(pieces[n-1]) < minSentence {
		pieces[n-1] += " " + piece
		return pieces
	}
	return append(pieces, piece)
}

func isTrailer(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']', '”':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
