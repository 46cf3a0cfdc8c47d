package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"setupsync/internal/hashcache"
	"setupsync/internal/testsupport"
)

func newIndex(t *testing.T, dir string) (*Index, *hashcache.Cache) {
	t.Helper()
	cache, err := hashcache.New(filepath.Join(dir, "cache.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewIndex(cache, nil), cache
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	return testsupport.WriteSetup(t, filepath.Join(dir, name), content)
}

func TestBuildIndexPicksLexicallySmallestPath(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.sto", "same")
	write(t, dir, "b.sto", "same")
	write(t, dir, "c.sto", "unique")
	write(t, dir, "notes.txt", "same") // non-setup files are ignored

	idx, _ := newIndex(t, dir)
	count, err := idx.BuildIndex(dir)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if count != 3 {
		t.Fatalf("scanned %d files, want 3", count)
	}
	if idx.Len() != 2 {
		t.Fatalf("indexed %d hashes, want 2", idx.Len())
	}

	if dup, ok := idx.FindDuplicateByHash(hashcache.HashBytes([]byte("same"))); !ok || dup != a {
		t.Fatalf("canonical for shared content = %q, %v, want %q", dup, ok, a)
	}
}

func TestFindDuplicateNeverReturnsSelf(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.sto", "same")
	b := write(t, dir, "b.sto", "same")

	idx, _ := newIndex(t, dir)
	if _, err := idx.BuildIndex(dir); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := idx.FindDuplicate(a); err != nil || ok {
		t.Fatalf("canonical file reported as its own duplicate (%v)", err)
	}
	dup, ok, err := idx.FindDuplicate(b)
	if err != nil || !ok || dup != a {
		t.Fatalf("FindDuplicate(b) = %q, %v, %v", dup, ok, err)
	}
}

func TestAddFirstClaimWins(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.sto", "same")
	z := write(t, dir, "z.sto", "same")

	idx, _ := newIndex(t, dir)
	if err := idx.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(z); err != nil {
		t.Fatal(err)
	}

	if dup, _ := idx.FindDuplicateByHash(hashcache.HashBytes([]byte("same"))); dup != a {
		t.Fatalf("canonical = %q, want first claim %q", dup, a)
	}
}

func TestRemoveDropsOnlyOwnClaim(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.sto", "same")
	b := write(t, dir, "b.sto", "same")

	idx, _ := newIndex(t, dir)
	if err := idx.Add(a); err != nil {
		t.Fatal(err)
	}

	idx.Remove(b) // b never held the claim
	if idx.Len() != 1 {
		t.Fatal("Remove by non-holder must not drop the claim")
	}
	idx.Remove(a)
	if idx.Len() != 0 {
		t.Fatal("Remove by holder should drop the claim")
	}
}

func TestRemoveDeletedFile(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.sto", "content")

	idx, cache := newIndex(t, dir)
	if err := idx.Add(a); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(a); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(a)

	idx.Remove(a)
	if idx.Len() != 0 {
		t.Fatal("claim for a deleted file should be dropped")
	}
}

func TestReserve(t *testing.T) {
	idx, _ := newIndex(t, t.TempDir())

	canonical, claimed := idx.Reserve("h1", "/setups/a.sto")
	if !claimed || canonical != "/setups/a.sto" {
		t.Fatalf("first Reserve = %q, %v", canonical, claimed)
	}

	canonical, claimed = idx.Reserve("h1", "/setups/b.sto")
	if claimed || canonical != "/setups/a.sto" {
		t.Fatalf("second Reserve = %q, %v", canonical, claimed)
	}

	idx.Release("h1", "/setups/b.sto")
	if idx.Len() != 1 {
		t.Fatal("Release by non-holder must not drop the claim")
	}
	idx.Release("h1", "/setups/a.sto")
	if idx.Len() != 0 {
		t.Fatal("Release by holder should drop the claim")
	}
}
