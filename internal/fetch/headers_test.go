package fetch

import (
	"net/http"
	"testing"
)

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestIsHopByHopHeaderIsCaseInsensitive(t *testing.T) {
	if !IsHopByHopHeader("transfer-encoding") {
		t.Fatalf("transfer-encoding should be hop-by-hop")
	}
	if IsHopByHopHeader("Cache-Control") {
		t.Fatalf("cache-control must be forwarded")
	}
}
