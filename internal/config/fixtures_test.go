package config

import (
	"os"
	"testing"

	"gopkg.in/yaml.v3"
)

// peerFixture mirrors testdata/network_nodes.yaml, used to check splitList
// against a peer list authored the way an operator's config would be.
type peerFixture struct {
	Peers []string `yaml:"peers"`
}

func TestSplitListMatchesYAMLFixture(t *testing.T) {
	raw, err := os.ReadFile("testdata/network_nodes.yaml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var fx peerFixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	if len(fx.Peers) != 3 {
		t.Fatalf("expected 3 fixture peers, got %d", len(fx.Peers))
	}

	csv := ""
	for i, p := range fx.Peers {
		if i > 0 {
			csv += ","
		}
		csv += p
	}
	got := splitList(csv)
	if len(got) != len(fx.Peers) {
		t.Fatalf("splitList returned %d entries, want %d", len(got), len(fx.Peers))
	}
	for i := range got {
		if got[i] != fx.Peers[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], fx.Peers[i])
		}
	}
}
