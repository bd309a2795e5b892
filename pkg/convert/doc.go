// Package convert rewrites the pipe-delimited transaction CSV files of the
// asset directory as Parquet, so both crawlers have data to catalog.
package convert
