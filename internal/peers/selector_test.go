package peers

import (
	"testing"

	"chainsyncd/internal/model"
)

func TestBaseURLFromNodeDefaultsToHTTP(t *testing.T) {
	n := model.NodeRecord{Domain: "peer.example.com", Port: 9000}
	if got, want := BaseURLFromNode(n), "http://peer.example.com:9000"; got != want {
		t.Fatalf("BaseURLFromNode() = %q, want %q", got, want)
	}
}

func TestBaseURLFromNodeUsesIPWhenDomainEmpty(t *testing.T) {
	n := model.NodeRecord{IP: "10.0.0.5", Protocol: "https"}
	if got, want := BaseURLFromNode(n), "https://10.0.0.5"; got != want {
		t.Fatalf("BaseURLFromNode() = %q, want %q", got, want)
	}
}

func TestTipHeightPrefersExplicitHeight(t *testing.T) {
	r := tipHashesResult{Height: 42, Hashes: map[string]string{"10": "0xabc"}}
	if got := r.tipHeight(); got != 42 {
		t.Fatalf("tipHeight() = %d, want 42", got)
	}
}

func TestTipHeightFallsBackToMaxHashKey(t *testing.T) {
	r := tipHashesResult{Hashes: map[string]string{"5": "0xa", "12": "0xb", "7": "0xc"}}
	if got := r.tipHeight(); got != 12 {
		t.Fatalf("tipHeight() = %d, want 12", got)
	}
}

func TestTipHeightZeroOnEmpty(t *testing.T) {
	var r tipHashesResult
	if got := r.tipHeight(); got != 0 {
		t.Fatalf("tipHeight() = %d, want 0", got)
	}
}

func TestIdentityDefaultsPortByScheme(t *testing.T) {
	cases := map[string]string{
		"https://Peer.Example.com":      "peer.example.com:443",
		"http://peer.example.com":       "peer.example.com:80",
		"http://peer.example.com:9000":  "peer.example.com:9000",
	}
	for base, want := range cases {
		if got := identity(base); got != want {
			t.Errorf("identity(%q) = %q, want %q", base, got, want)
		}
	}
}
