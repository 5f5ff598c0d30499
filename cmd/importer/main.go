// Package main loads expression, annotation and cell line CSV files into a CARTAR store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cartar/server/internal/exprstore"
)

type importStep struct {
	name string
	path string
	run  func(ctx context.Context, r io.Reader) (int, error)
}

func main() {
	backend := flag.String("backend", "sqlite", "Store backend: sqlite or duckdb")
	dbPath := flag.String("db", "./data/cartar.sqlite", "Path to the expression database")
	expression := flag.String("expression", "", "Long-format CSV (gene,tumor,group,value); .zst accepted")
	annotations := flag.String("annotations", "", "Gene annotation CSV (gene,membrane,hpa_plasma_membrane)")
	cellLines := flag.String("cell-lines", "", "CCLE model metadata CSV")
	cellLineExpr := flag.String("cell-line-expression", "", "Cell line expression CSV (gene,model_id,value)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	store, err := open(*backend, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	// Cell line metadata must precede cell line expression.
	steps := []importStep{
		{"expression", *expression, store.ImportExpression},
		{"annotations", *annotations, store.ImportAnnotations},
		{"cell-lines", *cellLines, store.ImportCellLines},
		{"cell-line-expression", *cellLineExpr, store.ImportCellLineExpression},
	}

	ctx := context.Background()
	ran := 0
	for _, step := range steps {
		if step.path == "" {
			continue
		}
		ran++
		if err := runStep(ctx, step); err != nil {
			store.Close()
			log.Fatalf("Import %s failed: %v", step.name, err)
		}
	}
	if ran == 0 {
		fmt.Fprintln(os.Stderr, "nothing to import; pass at least one of -expression, -annotations, -cell-lines, -cell-line-expression")
		flag.Usage()
		os.Exit(2)
	}
}

func open(backend, path string) (*exprstore.SQLStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return exprstore.OpenSQLite(path, exprstore.Options{})
	case "duckdb":
		return exprstore.OpenDuckDB(path, exprstore.Options{})
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

func runStep(ctx context.Context, step importStep) error {
	f, err := exprstore.OpenImportFile(step.path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	n, err := step.run(ctx, f)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"file":    step.path,
		"rows":    n,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Infof("[Importer] %s imported", step.name)
	return nil
}
