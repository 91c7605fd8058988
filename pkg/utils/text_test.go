package utils

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestTruncate_multibyte(t *testing.T) {
	got := Truncate("مرحبا بكم", 5)
	if got != "مرحبا..." {
		t.Errorf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated string must stay valid UTF-8")
	}
}
