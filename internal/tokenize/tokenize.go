// Package tokenize implements the word tokeniser of spec.md §4.5, grounded
// on original_source/src/tokenize.rs's WordTokenizer but restated with the
// literal byte-class rule spec.md gives rather than the Rust original's
// char-cast of a raw byte (which, cast to rune, is only ever correct for
// ASCII alphanumerics and happens to also pass every UTF-8 continuation
// byte as "alphanumeric" by accident of Rust's char::is_alphanumeric on
// values above 0x7f — spec.md's rule is stated explicitly instead and is
// implemented directly here, without relying on that quirk).
package tokenize

import "unicode/utf8"

// isWordByte reports whether b can appear inside a word: an ASCII
// alphanumeric, or a UTF-8 lead byte (top two bits "11"), per spec.md
// §4.5.
func isWordByte(b byte) bool {
	if b < 0x80 {
		return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
	}
	return b&0xC0 == 0xC0
}

// isContinuationOrWordByte reports whether b can continue a word once
// inside one: any word byte, or any UTF-8 continuation byte (top two bits
// "10"), since a lead byte only starts a multi-byte rune — the rest of
// its bytes must also stay in the word for the word to be valid UTF-8.
func isContinuationOrWordByte(b byte) bool {
	if b&0xC0 == 0x80 {
		return true
	}
	return isWordByte(b)
}

// Result is the outcome of scanning one chunk of bytes: the words found
// (each a view into the combined input, valid only until the caller's
// next mutation of that buffer) and the carry, the suffix left over after
// the last complete word, to be prepended to the next chunk.
type Result struct {
	Words [][]byte
	Carry []byte
}

// Scan tokenises data into words, per spec.md §4.5. maxWordLen bounds how
// long a single word (and therefore the returned carry) may grow: once a
// run of word bytes reaches maxWordLen without hitting a terminator, the
// word is force-ended there, satisfying the invariant that the carry
// buffer at rest is always strictly shorter than one word's maximum
// length. Ok is false if any emitted word is not valid UTF-8, at which
// point the caller must treat the file as binary; Words and Carry are
// unspecified in that case.
func Scan(data []byte, maxWordLen int) (result Result, ok bool) {
	var words [][]byte
	i := 0
	n := len(data)

	for i < n {
		for i < n && !isWordByte(data[i]) {
			i++
		}
		if i >= n {
			break
		}

		start := i
		i++
		for i < n && i-start < maxWordLen && isContinuationOrWordByte(data[i]) {
			i++
		}

		word := data[start:i]
		capHit := i-start >= maxWordLen

		if i == n && !capHit {
			// The run reached the end of data with no terminator or cap
			// observed; it may continue in the next chunk, so it becomes
			// carry instead of a completed word, preserving the invariant
			// that carry is always strictly shorter than maxWordLen.
			return Result{Words: words, Carry: append([]byte(nil), word...)}, true
		}

		if !utf8.Valid(word) {
			return Result{}, false
		}
		words = append(words, word)
	}

	return Result{Words: words, Carry: nil}, true
}
