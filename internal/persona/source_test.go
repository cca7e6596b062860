package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/counselsim/internal/domain"
)

func writeDataset(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceList(t *testing.T) {
	path := writeDataset(t, t.TempDir(), "data.json", `[
		{"id": "b", "portrait": {"symptoms": "焦虑"}},
		{"portrait": {}},
		{"id": "a"}
	]`)
	src := NewFileSource(path, nil)
	ctx := context.Background()

	ids, err := src.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if strings.Join(ids, ",") != "b,a" {
		t.Fatalf("expected file order without id-less record, got %v", ids)
	}

	rec, err := src.Lookup(ctx, "b")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Portrait.Symptoms != "焦虑" {
		t.Errorf("unexpected symptoms %q", rec.Portrait.Symptoms)
	}
	if _, err := src.Lookup(ctx, "zzz"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileSourceObject(t *testing.T) {
	path := writeDataset(t, t.TempDir(), "data.json", `{"k2": {"id": "2"}, "k1": {"id": "1"}}`)
	ids, err := NewFileSource(path, nil).IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
}

func TestFileSourceRejectsUnsupportedShapes(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"scalar.json":    `42`,
		"mixed-obj.json": `{"a": {"id": "a"}, "b": 3}`,
	} {
		path := writeDataset(t, dir, name, body)
		if _, err := NewFileSource(path, nil).IDs(context.Background()); !errors.Is(err, domain.ErrInvalidFormat) {
			t.Errorf("%s: expected ErrInvalidFormat, got %v", name, err)
		}
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.json"), nil)
	if _, err := src.IDs(context.Background()); err == nil {
		t.Fatal("expected error for missing dataset")
	}
}

func TestFileSourceRefreshOnModTime(t *testing.T) {
	dir := t.TempDir()
	path := writeDataset(t, dir, "data.json", `[{"id": "one"}]`)
	src := NewFileSource(path, nil)
	ctx := context.Background()

	if ids, _ := src.IDs(ctx); len(ids) != 1 {
		t.Fatalf("expected 1 id, got %v", ids)
	}

	writeDataset(t, dir, "data.json", `[{"id": "one"}, {"id": "two"}]`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if ids, _ := src.IDs(ctx); len(ids) != 1 {
		t.Fatalf("expected cached ids before refresh, got %v", ids)
	}
	if err := src.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if ids, _ := src.IDs(ctx); len(ids) != 2 {
		t.Fatalf("expected reloaded ids, got %v", ids)
	}
}

func TestSQLiteImportAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patients.db")
	if !IsSQLitePath(path) || IsSQLitePath("data.json") {
		t.Fatal("IsSQLitePath misclassified paths")
	}

	src, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	records, err := ReadDataset(writeDataset(t, dir, "in.json", `[
		{"id": "p1", "portrait": {"age": 40}, "chain": ["失眠"]},
		{"id": "p2", "prompt": "custom"},
		{"portrait": {}}
	]`))
	if err != nil {
		t.Fatal(err)
	}

	n, err := src.Import(ctx, records, nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 imported records, got %d", n)
	}

	ids, err := src.IDs(ctx)
	if err != nil || strings.Join(ids, ",") != "p1,p2" {
		t.Fatalf("unexpected ids %v (err %v)", ids, err)
	}

	rec, err := src.Lookup(ctx, "p1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Portrait.Age != "40" || rec.Chain.At(0) != "失眠" {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := src.Lookup(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Re-import overwrites instead of duplicating.
	if _, err := src.Import(ctx, records[:1], nil); err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if ids, _ := src.IDs(ctx); len(ids) != 2 {
		t.Errorf("expected upsert, got %v", ids)
	}
}

func TestSQLiteImportRejectsInvalidChain(t *testing.T) {
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	bad := []map[string]any{{"id": "x", "chain": []any{1.0}}}
	if _, err := src.Import(context.Background(), bad, nil); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if ids, _ := src.IDs(context.Background()); len(ids) != 0 {
		t.Fatalf("expected rolled back import, got %v", ids)
	}
}
