// Package dataset loads node-classification graphs and draws the random
// subgraphs and splits that target, shadow and population models train on.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// Supported dataset names.
const (
	Cora      = "cora"
	Citeseer  = "citeseer"
	Synthetic = "synthetic"
)

// Options tunes dataset loading.
type Options struct {
	Seed      uint64
	Synthetic SyntheticConfig
	Logger    zerolog.Logger
}

// Load returns the full graph for a named dataset. LINQS datasets are read
// from datadir/<name>/<name>.content and datadir/<name>/<name>.cites.
func Load(name, datadir string, opts Options) (*graph.Graph, error) {
	var (
		g   *graph.Graph
		err error
	)
	switch strings.ToLower(name) {
	case Cora, Citeseer:
		dir := filepath.Join(datadir, strings.ToLower(name))
		g, err = LoadLINQS(strings.ToLower(name), dir)
	case Synthetic:
		g, err = GenerateSBM(opts.Synthetic, opts.Seed)
	default:
		return nil, errs.Configf("unsupported dataset %q (cora, citeseer, synthetic)", name)
	}
	if err != nil {
		return nil, err
	}

	opts.Logger.Info().
		Str("dataset", g.Name).
		Int("nodes", g.NumNodes()).
		Int("edges", len(g.Edges)).
		Int("features", g.NumFeatures()).
		Int("classes", g.NumClasses).
		Msg("Dataset loaded")

	return g, nil
}

// LoadLINQS parses a citation dataset in the LINQS text format:
//
//	<name>.content: <paper_id> <f_1> ... <f_k> <class_label>
//	<name>.cites:   <cited_paper_id> <citing_paper_id>
//
// Citations that reference unknown papers are skipped. Class labels are
// numbered in lexical order.
func LoadLINQS(name, dir string) (*graph.Graph, error) {
	contentPath := filepath.Join(dir, name+".content")
	citesPath := filepath.Join(dir, name+".cites")

	ids, rows, classNames, err := readContent(contentPath)
	if err != nil {
		return nil, err
	}

	classes := uniqueSorted(classNames)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	n := len(ids)
	f := len(rows[0])
	features := mat.NewDense(n, f, nil)
	labels := make([]int, n)
	index := make(map[string]int, n)
	for i, id := range ids {
		features.SetRow(i, rows[i])
		labels[i] = classIndex[classNames[i]]
		index[id] = i
	}

	g := graph.NewGraph(name, features, labels, len(classes))
	if err := readCites(citesPath, index, g); err != nil {
		return nil, err
	}
	return g, nil
}

func readContent(path string) ([]string, [][]float64, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errs.Configf("open %s: %v", path, err)
	}
	defer file.Close()

	var (
		ids     []string
		rows    [][]float64
		classes []string
		seen    = make(map[string]int)
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, nil, nil, errs.Integrityf("%s:%d: expected id, features and label", path, lineNum)
		}
		if first, ok := seen[fields[0]]; ok {
			return nil, nil, nil, errs.Integrityf("%s:%d: paper %q already defined on line %d", path, lineNum, fields[0], first)
		}
		seen[fields[0]] = lineNum
		row := make([]float64, len(fields)-2)
		for j, s := range fields[1 : len(fields)-1] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, nil, errs.Integrityf("%s:%d: bad feature %q", path, lineNum, s)
			}
			row[j] = v
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, nil, nil, errs.Integrityf("%s:%d: %d features, expected %d", path, lineNum, len(row), len(rows[0]))
		}
		ids = append(ids, fields[0])
		rows = append(rows, row)
		classes = append(classes, fields[len(fields)-1])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, nil, nil, errs.Integrityf("%s: no nodes", path)
	}
	return ids, rows, classes, nil
}

func readCites(path string, index map[string]int, g *graph.Graph) error {
	file, err := os.Open(path)
	if err != nil {
		return errs.Configf("open %s: %v", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		cited, ok1 := index[fields[0]]
		citing, ok2 := index[fields[1]]
		if !ok1 || !ok2 {
			continue
		}
		if err := g.AddEdge(citing, cited); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
