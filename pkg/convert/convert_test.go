package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/parquet/file"
)

const transactions = `transaction_id|account|amount|booked_at
1|alice|12.50|2024-01-02
2|bob|7.25|2024-01-03
3|carol|100.00|2024-01-04
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func parquetRows(t *testing.T, path string) (int64, int) {
	t.Helper()
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer rdr.Close()
	return rdr.NumRows(), rdr.MetaData().Schema.NumColumns()
}

func TestAssets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, CSVDir, "2024-01.csv"), transactions)
	writeFile(t, filepath.Join(root, CSVDir, "2024-02.CSV"), "transaction_id|account|amount|booked_at\n4|dave|1.00|2024-02-01\n")
	writeFile(t, filepath.Join(root, CSVDir, "notes.md"), "not data")

	outputs, err := Assets(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("Assets() error = %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}

	want := []struct {
		name string
		rows int64
	}{
		{"2024-01.parquet", 3},
		{"2024-02.parquet", 1},
	}
	for i, w := range want {
		if filepath.Base(outputs[i].Path) != w.name {
			t.Errorf("outputs[%d] = %s, want %s", i, outputs[i].Path, w.name)
		}
		if outputs[i].Rows != w.rows {
			t.Errorf("outputs[%d].Rows = %d, want %d", i, outputs[i].Rows, w.rows)
		}

		rows, cols := parquetRows(t, filepath.Join(root, ParquetDir, w.name))
		if rows != w.rows || cols != 4 {
			t.Errorf("%s has %d rows and %d columns, want %d and 4", w.name, rows, cols, w.rows)
		}
	}
}

func TestFile_SmallChunks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "t.csv")
	dst := filepath.Join(dir, "t.parquet")
	writeFile(t, src, transactions)

	rows, err := File(src, dst, Options{ChunkSize: 1})
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3", rows)
	}
	if got, _ := parquetRows(t, dst); got != 3 {
		t.Errorf("parquet rows = %d, want 3", got)
	}
}

func TestFile_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.csv")
	dst := filepath.Join(dir, "empty.parquet")
	writeFile(t, src, "transaction_id|account\n")

	if _, err := File(src, dst, Options{}); err == nil {
		t.Fatal("expected error for header-only input")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("partial output was not removed")
	}
}

func TestDirectory_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Directory(context.Background(), filepath.Join(dir, "missing"), dir, Options{}); err == nil {
		t.Error("expected error for missing source")
	}

	if _, err := Directory(context.Background(), dir, filepath.Join(dir, "out"), Options{}); !errors.Is(err, ErrNoInput) {
		t.Errorf("Directory() error = %v, want ErrNoInput", err)
	}

	writeFile(t, filepath.Join(dir, "a.csv"), transactions)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Directory(ctx, dir, filepath.Join(dir, "out"), Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Directory() error = %v, want context.Canceled", err)
	}
}
