package release

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/types"
	"gopkg.in/yaml.v3"
)

// AnyTemplate matches every template of an engine without its own entry
const AnyTemplate = "*"

// ErrNoChart is returned when no chart is configured for an engine/template pair
var ErrNoChart = errors.New("no chart configured")

// ChartConfig is one catalog entry as written in the configuration file
type ChartConfig struct {
	Ref        string                 `yaml:"ref"`
	Version    string                 `yaml:"version,omitempty"`
	ValuesFile string                 `yaml:"valuesFile,omitempty"`
	Values     map[string]interface{} `yaml:"values,omitempty"`
}

// Catalog selects the chart for a store from its engine and template
type Catalog struct {
	entries    map[types.Engine]map[string]ChartConfig
	fileValues map[string]map[string]interface{}
	baseDomain string
}

// NewCatalog validates entries and loads every referenced values file.
// Stores get their ID, engine and template under "store" and their ingress
// host under "ingress.host" on top of the configured values.
func NewCatalog(entries map[types.Engine]map[string]ChartConfig, baseDomain string) (*Catalog, error) {
	c := &Catalog{
		entries:    entries,
		fileValues: make(map[string]map[string]interface{}),
		baseDomain: baseDomain,
	}

	for engine, templates := range entries {
		if !engine.Valid() {
			return nil, fmt.Errorf("chart catalog: unknown engine %q", engine)
		}
		for template, entry := range templates {
			if entry.Ref == "" {
				return nil, fmt.Errorf("chart catalog: %s/%s has no ref", engine, template)
			}
			if entry.ValuesFile == "" {
				continue
			}
			if _, ok := c.fileValues[entry.ValuesFile]; ok {
				continue
			}
			values, err := readValuesFile(entry.ValuesFile)
			if err != nil {
				return nil, err
			}
			c.fileValues[entry.ValuesFile] = values
		}
	}
	return c, nil
}

// Resolve returns the chart for a store
func (c *Catalog) Resolve(rec *types.StoreRecord) (cluster.ChartSpec, error) {
	templates, ok := c.entries[rec.Engine]
	if !ok {
		return cluster.ChartSpec{}, fmt.Errorf("%w for engine %s", ErrNoChart, rec.Engine)
	}
	entry, ok := templates[rec.Template]
	if !ok {
		if entry, ok = templates[AnyTemplate]; !ok {
			return cluster.ChartSpec{}, fmt.Errorf("%w for %s template %s", ErrNoChart, rec.Engine, rec.Template)
		}
	}

	values := map[string]interface{}{}
	if entry.ValuesFile != "" {
		mergeValues(values, c.fileValues[entry.ValuesFile])
	}
	mergeValues(values, entry.Values)
	mergeValues(values, map[string]interface{}{
		"store": map[string]interface{}{
			"id":       rec.ID,
			"name":     rec.Name,
			"engine":   string(rec.Engine),
			"template": rec.Template,
		},
	})
	if c.baseDomain != "" {
		mergeValues(values, map[string]interface{}{
			"ingress": map[string]interface{}{
				"host": rec.ID + "." + c.baseDomain,
			},
		})
	}

	return cluster.ChartSpec{
		Ref:     entry.Ref,
		Version: entry.Version,
		Values:  values,
	}, nil
}

func readValuesFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values file: %w", err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse values file %s: %w", path, err)
	}
	return values, nil
}

// mergeValues deep-merges src into dst; src wins on conflicts
func mergeValues(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeValues(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			cp := map[string]interface{}{}
			mergeValues(cp, srcMap)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}
