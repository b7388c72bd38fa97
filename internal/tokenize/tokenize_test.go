package tokenize_test

import (
	"bytes"
	"testing"

	"github.com/tripwire/filetail/internal/tokenize"
)

func TestScan_SimpleWords(t *testing.T) {
	result, ok := tokenize.Scan([]byte("hello world\n"), 4096)
	if !ok {
		t.Fatal("Scan reported invalid UTF-8 for plain ASCII input")
	}
	if len(result.Carry) != 0 {
		t.Errorf("Carry = %q, want empty (input ends on a terminator)", result.Carry)
	}

	want := [][]byte{[]byte("hello"), []byte("world")}
	if len(result.Words) != len(want) {
		t.Fatalf("Words = %q, want %q", result.Words, want)
	}
	for i, w := range want {
		if !bytes.Equal(result.Words[i], w) {
			t.Errorf("Words[%d] = %q, want %q", i, result.Words[i], w)
		}
	}
}

func TestScan_TrailingWordBecomesCarry(t *testing.T) {
	result, ok := tokenize.Scan([]byte("foo ba"), 4096)
	if !ok {
		t.Fatal("unexpected binary detection")
	}
	if len(result.Words) != 1 || string(result.Words[0]) != "foo" {
		t.Errorf("Words = %q, want [\"foo\"]", result.Words)
	}
	if string(result.Carry) != "ba" {
		t.Errorf("Carry = %q, want %q", result.Carry, "ba")
	}
}

func TestScan_CarryCompletesAcrossChunks(t *testing.T) {
	first, ok := tokenize.Scan([]byte("fo"), 4096)
	if !ok {
		t.Fatal("unexpected binary detection")
	}
	if len(first.Words) != 0 || string(first.Carry) != "fo" {
		t.Fatalf("first pass = words:%q carry:%q, want no words and carry \"fo\"", first.Words, first.Carry)
	}

	combined := append(append([]byte(nil), first.Carry...), []byte("o bar")...)
	second, ok := tokenize.Scan(combined, 4096)
	if !ok {
		t.Fatal("unexpected binary detection")
	}
	if len(second.Words) != 1 || string(second.Words[0]) != "foo" {
		t.Errorf("Words = %q, want [\"foo\"]", second.Words)
	}
	if string(second.Carry) != "bar" {
		t.Errorf("Carry = %q, want %q (unterminated trailing run)", second.Carry, "bar")
	}
}

func TestScan_MultibyteWord(t *testing.T) {
	result, ok := tokenize.Scan([]byte("say 😀 hi"), 4096)
	if !ok {
		t.Fatal("unexpected binary detection for valid UTF-8 input")
	}
	found := false
	for _, w := range result.Words {
		if string(w) == "😀" {
			found = true
		}
	}
	if !found {
		t.Errorf("Words = %q, want one of them to be %q", result.Words, "😀")
	}
}

func TestScan_InvalidUTF8DeclaresBinary(t *testing.T) {
	// 0xC3 (a two-byte lead) is directly followed by an ASCII byte
	// instead of a continuation byte; the trailing space terminates the
	// run so it is validated as a complete word rather than carried over.
	data := []byte{'a', 0xC3, 'b', ' '}
	_, ok := tokenize.Scan(data, 4096)
	if ok {
		t.Fatal("expected Scan to report invalid UTF-8 and declare binary")
	}
}

func TestScan_MaxWordLengthBoundsCarry(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 10)
	result, ok := tokenize.Scan(long, 4)
	if !ok {
		t.Fatal("unexpected binary detection")
	}
	if len(result.Words) != 2 {
		t.Fatalf("Words count = %d, want 2 (split at the length cap)", len(result.Words))
	}
	if len(result.Carry) >= 4 {
		t.Errorf("Carry length = %d, want strictly less than maxWordLen 4", len(result.Carry))
	}
}

func TestScan_SkipsPunctuation(t *testing.T) {
	result, ok := tokenize.Scan([]byte("  ...hi!! there,,\n"), 4096)
	if !ok {
		t.Fatal("unexpected binary detection")
	}
	if len(result.Words) != 2 || string(result.Words[0]) != "hi" || string(result.Words[1]) != "there" {
		t.Errorf("Words = %q, want [\"hi\" \"there\"]", result.Words)
	}
}
