package chain

import (
	"path/filepath"
	"testing"
)

func TestMemHeaderStoreTipTracking(t *testing.T) {
	store := NewMemHeaderStore()

	if _, ok, err := store.Tip(); err != nil || ok {
		t.Fatalf("empty store tip: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.HeaderAt(3); err != nil || ok {
		t.Fatalf("empty store header: ok=%v err=%v", ok, err)
	}

	for _, h := range []Header{
		{Height: 5, Hash: "blk-5", PrevHash: "blk-4", Time: 500},
		{Height: 7, Hash: "blk-7", PrevHash: "blk-6", Time: 700},
		{Height: 6, Hash: "blk-6", PrevHash: "blk-5", Time: 600},
	} {
		if err := store.PutHeader(h); err != nil {
			t.Fatalf("put header %d: %v", h.Height, err)
		}
	}

	tip, ok, err := store.Tip()
	if err != nil || !ok {
		t.Fatalf("tip: ok=%v err=%v", ok, err)
	}
	if tip.Hash != "blk-7" {
		t.Fatalf("tip = %s, want blk-7", tip.Hash)
	}

	got, ok, err := store.HeaderAt(6)
	if err != nil || !ok {
		t.Fatalf("header at 6: ok=%v err=%v", ok, err)
	}
	if got.Hash != "blk-6" || got.Time != 600 {
		t.Fatalf("header at 6 = %+v", got)
	}

	if err := store.PutHeader(Header{Height: 9}); err == nil {
		t.Fatal("expected empty hash to be rejected")
	}
}

func TestMemHeaderStoreReplacesHeight(t *testing.T) {
	store := NewMemHeaderStore()
	if err := store.PutHeader(Header{Height: 4, Hash: "blk-4", Time: 400}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutHeader(Header{Height: 4, Hash: "blk-4b", Time: 460}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, ok, err := store.HeaderAt(4)
	if err != nil || !ok {
		t.Fatalf("header at 4: ok=%v err=%v", ok, err)
	}
	if got.Hash != "blk-4b" {
		t.Fatalf("header at 4 = %s, want blk-4b", got.Hash)
	}
	tip, ok, _ := store.Tip()
	if !ok || tip.Hash != "blk-4b" {
		t.Fatalf("tip = %+v, want replaced header", tip)
	}
}

func TestLevelHeaderStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headers")
	store, err := OpenLevelHeaderStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	open := store
	t.Cleanup(func() {
		if open != nil {
			_ = open.Close()
		}
	})

	if _, ok, err := store.Tip(); err != nil || ok {
		t.Fatalf("empty store tip: ok=%v err=%v", ok, err)
	}

	for _, h := range []Header{
		{Height: 10, Hash: "blk-10", PrevHash: "blk-9", Time: 1000},
		{Height: 11, Hash: "blk-11", PrevHash: "blk-10", Time: 1100},
		{Height: 12, Hash: "blk-12", PrevHash: "blk-11", Time: 1200},
	} {
		if err := store.PutHeader(h); err != nil {
			t.Fatalf("put header %d: %v", h.Height, err)
		}
	}

	// A backfilled header below the tip must not move the tip.
	if err := store.PutHeader(Header{Height: 9, Hash: "blk-9", PrevHash: "blk-8", Time: 900}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	tip, ok, err := store.Tip()
	if err != nil || !ok {
		t.Fatalf("tip: ok=%v err=%v", ok, err)
	}
	if tip.Hash != "blk-12" {
		t.Fatalf("tip = %s, want blk-12", tip.Hash)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	open = nil

	reopened, err := OpenLevelHeaderStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	tip, ok, err = reopened.Tip()
	if err != nil || !ok {
		t.Fatalf("tip after reopen: ok=%v err=%v", ok, err)
	}
	if tip.Hash != "blk-12" || tip.Time != 1200 {
		t.Fatalf("tip after reopen = %+v", tip)
	}
	got, ok, err := reopened.HeaderAt(9)
	if err != nil || !ok {
		t.Fatalf("backfilled header after reopen: ok=%v err=%v", ok, err)
	}
	if got.Hash != "blk-9" {
		t.Fatalf("backfilled header = %s, want blk-9", got.Hash)
	}
	if _, ok, err := reopened.HeaderAt(42); err != nil || ok {
		t.Fatalf("missing header: ok=%v err=%v", ok, err)
	}
}

func TestHeaderConnects(t *testing.T) {
	parent := Header{Height: 8, Hash: "blk-8", PrevHash: "blk-7"}
	cases := []struct {
		name  string
		child Header
		want  bool
	}{
		{"extends", Header{Height: 9, Hash: "blk-9", PrevHash: "blk-8"}, true},
		{"wrong parent hash", Header{Height: 9, Hash: "blk-9", PrevHash: "blk-8b"}, false},
		{"height gap", Header{Height: 10, Hash: "blk-10", PrevHash: "blk-8"}, false},
		{"same height", Header{Height: 8, Hash: "blk-8b", PrevHash: "blk-7"}, false},
	}
	for _, tc := range cases {
		if got := parent.Connects(tc.child); got != tc.want {
			t.Fatalf("%s: Connects = %v, want %v", tc.name, got, tc.want)
		}
	}
}
