//go:build !duckdb

package exprstore

// OpenDuckDB is a stub when built without "-tags duckdb".
func OpenDuckDB(path string, opts Options) (*SQLStore, error) {
	return nil, ErrUnsupported
}
