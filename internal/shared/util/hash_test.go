package util

import "testing"

func TestHashKey(t *testing.T) {
	id := "doc-12345"
	got := HashKey(id)
	if got != HashKey(id) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestChecksumHex(t *testing.T) {
	a := ChecksumHex([]byte("invoice body"))
	b := ChecksumHex([]byte("invoice body"))
	if a != b {
		t.Fatalf("checksum must be deterministic")
	}
	if a == ChecksumHex([]byte("other body")) {
		t.Fatalf("different payloads must not collide in test inputs")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(a))
	}
}
