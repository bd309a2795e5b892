package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Default layout of the asset directory
const (
	CSVDir     = "raw/csv/transactions"
	ParquetDir = "raw/parquet/transactions"

	// Delimiter separates fields in the transaction extracts
	Delimiter = '|'
)

// ErrNoInput is returned when the source directory holds no CSV files
var ErrNoInput = errors.New("no CSV files to convert")

// Options tunes a conversion
type Options struct {
	// Delimiter overrides the field separator
	// Default: '|'
	Delimiter rune

	// ChunkSize is the number of rows per record batch and row group
	// Default: 64k
	ChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = Delimiter
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 64 * 1024
	}
	return o
}

// Output describes one written Parquet file
type Output struct {
	Source string
	Path   string
	Rows   int64
}

// Assets converts <root>/raw/csv/transactions into <root>/raw/parquet/transactions
func Assets(ctx context.Context, root string, opts Options) ([]Output, error) {
	return Directory(ctx, filepath.Join(root, CSVDir), filepath.Join(root, ParquetDir), opts)
}

// Directory converts every *.csv file in src into a Parquet file with the
// same base name in dst. Column types are inferred from the data.
func Directory(ctx context.Context, src, dst string, opts Options) ([]Output, error) {
	opts = opts.withDefaults()
	logger := log.FromContext(ctx).WithValues("source", src, "destination", dst)

	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}

	var inputs []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			inputs = append(inputs, e.Name())
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInput, src)
	}
	sort.Strings(inputs)

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	outputs := make([]Output, 0, len(inputs))
	for _, name := range inputs {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}

		out := Output{
			Source: filepath.Join(src, name),
			Path:   filepath.Join(dst, strings.TrimSuffix(name, filepath.Ext(name))+".parquet"),
		}
		out.Rows, err = File(out.Source, out.Path, opts)
		if err != nil {
			return outputs, err
		}
		logger.V(1).Info("Converted file", "file", name, "rows", out.Rows)
		outputs = append(outputs, out)
	}

	logger.Info("Converted CSV files", "files", len(outputs))
	return outputs, nil
}

// File converts a single CSV file and returns the number of rows written.
// A partially written output is removed on failure.
func File(src, dst string, opts Options) (rows int64, err error) {
	opts = opts.withDefaults()

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		// The Parquet writer closes its sink on success
		if cerr := out.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	rows, err = write(in, out, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s: %w", src, err)
	}
	return rows, nil
}

func write(r io.Reader, w io.Writer, opts Options) (int64, error) {
	reader := csv.NewInferringReader(r,
		csv.WithComma(opts.Delimiter),
		csv.WithHeader(true),
		csv.WithChunk(opts.ChunkSize),
		csv.WithNullReader(true, ""),
	)
	defer reader.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithMaxRowGroupLength(int64(opts.ChunkSize)),
	)

	var (
		writer *pqarrow.FileWriter
		rows   int64
	)
	for reader.Next() {
		rec := reader.Record()
		if writer == nil {
			var err error
			writer, err = pqarrow.NewFileWriter(rec.Schema(), w, props, pqarrow.DefaultWriterProps())
			if err != nil {
				return 0, err
			}
		}
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return 0, err
		}
		rows += rec.NumRows()
	}
	if err := reader.Err(); err != nil {
		if writer != nil {
			_ = writer.Close()
		}
		return 0, err
	}
	if writer == nil {
		return 0, fmt.Errorf("no rows after header")
	}
	return rows, writer.Close()
}
