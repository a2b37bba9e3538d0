package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// BatchStatic holds the parameters every batch experiment runs with,
// overriding the file's own values.
var BatchStatic = map[string]any{
	"batch_size":     32,
	"early_stopping": true,
	"optimizer":      "Adam",
	"experiments":    10,
}

// LoadBatch reads a batch file: a YAML mapping from entry label to a map of
// configuration keys. Entries keep their file order. Each entry is merged
// over base (which may be nil for the defaults) and BatchStatic; an entry
// without a name is named attack-dataset-split-model.
func LoadBatch(path string, base map[string]any) ([]Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configf("read batch file: %v", err)
	}
	return ParseBatch(data, base)
}

// ParseBatch is LoadBatch on in-memory YAML.
func ParseBatch(data []byte, base map[string]any) ([]Experiment, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Configf("parse batch file: %v", err)
	}
	if len(doc.Content) == 0 {
		return nil, errs.Configf("batch file is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errs.Configf("batch file must be a mapping of experiments (line %d)", root.Line)
	}

	experiments := make([]Experiment, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		label := root.Content[i].Value
		var params map[string]any
		if err := root.Content[i+1].Decode(&params); err != nil {
			return nil, fmt.Errorf("%w: batch entry %q: %w", errs.ErrConfiguration, label, err)
		}

		c := New()
		for k, v := range base {
			c.Set(k, v)
		}
		for k, v := range params {
			c.Set(strings.ToLower(k), v)
		}
		for k, v := range BatchStatic {
			c.Set(k, v)
		}
		if _, ok := params["name"]; !ok {
			c.Set("name", strings.Join([]string{
				c.v.GetString("attack"),
				c.v.GetString("dataset"),
				c.v.GetString("split"),
				c.v.GetString("model"),
			}, "-"))
		}

		e, err := c.Experiment()
		if err != nil {
			return nil, fmt.Errorf("batch entry %q: %w", label, err)
		}
		experiments = append(experiments, e)
	}
	return experiments, nil
}
