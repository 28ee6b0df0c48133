package mining

import (
	"testing"
	"time"

	"chainsyncd/internal/model"
)

func TestMerkleRootSingle(t *testing.T) {
	h := model.SHA256([]byte("tx1"))
	got := MerkleRoot([]model.H256{h})
	if got != h {
		t.Fatalf("single-leaf merkle root should equal the leaf itself, got %s want %s", got.Hex(), h.Hex())
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	got := MerkleRoot(nil)
	if !got.IsZero() {
		t.Fatalf("empty merkle root should be zero, got %s", got.Hex())
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a := model.SHA256([]byte("a"))
	b := model.SHA256([]byte("b"))
	c := model.SHA256([]byte("c"))

	withThree := MerkleRoot([]model.H256{a, b, c})
	withDuplicatedLast := MerkleRoot([]model.H256{a, b, c, c})
	if withThree != withDuplicatedLast {
		t.Fatalf("odd-count root should match explicit last-duplicated root: %s vs %s", withThree.Hex(), withDuplicatedLast.Hex())
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	a := model.SHA256([]byte("a"))
	b := model.SHA256([]byte("b"))
	if MerkleRoot([]model.H256{a, b}) == MerkleRoot([]model.H256{b, a}) {
		t.Fatal("merkle root should depend on leaf order")
	}
}

func TestInQuickSyncWindow(t *testing.T) {
	l := &Loop{}
	cases := []struct {
		unix int64
		want bool
	}{
		{unix: 0, want: true},
		{unix: 5, want: true},
		{unix: 6, want: false},
		{unix: 54, want: false},
		{unix: 55, want: true},
		{unix: 59, want: true},
	}
	for _, c := range cases {
		got := l.inQuickSyncWindow(time.Unix(c.unix, 0))
		if got != c.want {
			t.Errorf("inQuickSyncWindow(%d) = %v, want %v", c.unix, got, c.want)
		}
	}
}
