package digest

import (
	"strings"
	"testing"
)

func TestBytesAndReaderAgree(t *testing.T) {
	data := []byte("hello, selfupdate")
	fromBytes := Bytes(data)
	fromReader, err := Reader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if fromBytes != fromReader {
		t.Fatalf("Bytes()=%s Reader()=%s", fromBytes, fromReader)
	}
	if len(fromBytes) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fromBytes))
	}
}

func TestEmptyInput(t *testing.T) {
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	got := Bytes(nil)
	if got != emptySHA256 {
		t.Fatalf("got %s", got)
	}
}
