package hosting

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_EnsureContainerTwice(t *testing.T) {
	m := NewMemoryStore("octo")
	ctx := context.Background()

	first, err := m.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("EnsureContainer: %v", err)
	}
	second, err := m.EnsureContainer(ctx, "tds-app-t1")
	if err != nil {
		t.Fatalf("second EnsureContainer: %v", err)
	}
	if *first != *second {
		t.Errorf("containers differ: %+v vs %+v", first, second)
	}
	if first.PagesURL != "https://octo.github.io/tds-app-t1/" {
		t.Errorf("PagesURL = %q", first.PagesURL)
	}
}

func TestMemoryStore_GetContainerMissing(t *testing.T) {
	m := NewMemoryStore("octo")
	_, err := m.GetContainer(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_WriteTwiceUpdates(t *testing.T) {
	m := NewMemoryStore("octo")
	ctx := context.Background()
	c, _ := m.EnsureContainer(ctx, "tds-app-t1")

	rev1, err := m.WriteArtifact(ctx, c, "index.html", "first", "<html>one</html>")
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	rev2, err := m.WriteArtifact(ctx, c, "index.html", "second", "<html>two</html>")
	if err != nil {
		t.Fatalf("second WriteArtifact: %v", err)
	}
	if rev1 == rev2 {
		t.Error("second write should yield a new revision")
	}
	if files := m.Files("tds-app-t1"); len(files) != 1 {
		t.Errorf("files = %v, want exactly one", files)
	}
	body, err := m.ReadArtifact(ctx, c, "index.html")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if body != "<html>two</html>" {
		t.Errorf("body = %q, want latest", body)
	}
}

func TestMemoryStore_StalePreconditionConflicts(t *testing.T) {
	m := NewMemoryStore("octo")
	ctx := context.Background()
	c, _ := m.EnsureContainer(ctx, "tds-app-t1")
	if _, err := m.WriteArtifact(ctx, c, "index.html", "first", "one"); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	stale := blobSHA("one")
	if _, err := m.put(c.Name, "index.html", "writer a", "two", stale); err != nil {
		t.Fatalf("put with current sha: %v", err)
	}
	_, err := m.put(c.Name, "index.html", "writer b", "three", stale)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMemoryStore_ReadMissingFile(t *testing.T) {
	m := NewMemoryStore("octo")
	ctx := context.Background()
	c, _ := m.EnsureContainer(ctx, "tds-app-t1")
	_, err := m.ReadArtifact(ctx, c, "index.html")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_EnablePagesIdempotent(t *testing.T) {
	m := NewMemoryStore("octo")
	ctx := context.Background()
	c, _ := m.EnsureContainer(ctx, "tds-app-t1")
	for i := 0; i < 2; i++ {
		if err := m.EnablePublicServing(ctx, c); err != nil {
			t.Fatalf("EnablePublicServing #%d: %v", i+1, err)
		}
	}
	if !m.PagesEnabled("tds-app-t1") {
		t.Error("pages should be enabled")
	}
	if n := m.CountCalls("enable_public_serving"); n != 2 {
		t.Errorf("enable calls = %d, want 2", n)
	}
}

func TestPagesURL_LowercasesOwner(t *testing.T) {
	if got := pagesURL("V-Srikar", "tds-app-x"); got != "https://v-srikar.github.io/tds-app-x/" {
		t.Errorf("pagesURL = %q", got)
	}
}
