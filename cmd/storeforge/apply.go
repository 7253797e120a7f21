package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuemby/storeforge/pkg/provision"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a store definition file",
	Long: `Request the stores described in a YAML file.

A store is created unless one with the same name already exists in a
non-terminal status. The file may hold several documents.

Examples:
  # Request one store
  storeforge apply -f store.yaml

  # store.yaml
  apiVersion: storeforge/v1
  kind: Store
  metadata:
    name: acme-shop
  spec:
    engine: medusa
    template: starter`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// StoreResource is one store definition in an apply file
type StoreResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       StoreSpec        `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type StoreSpec struct {
	Engine   types.Engine `yaml:"engine"`
	Template string       `yaml:"template"`
}

// applyOutcome reports what apply did with one resource
type applyOutcome struct {
	Name    string
	ID      string
	Created bool
	Status  types.Status
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	resources, err := parseResources(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	return withService(func(svc *provision.Service, store storage.Store) error {
		outcomes, err := applyStores(cmd.Context(), svc, store, resources)
		for _, o := range outcomes {
			if o.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Store requested: %s (ID: %s)\n", o.Name, o.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Store already exists: %s (ID: %s, %s, skipping)\n", o.Name, o.ID, o.Status)
			}
		}
		return err
	})
}

// parseResources decodes every YAML document in r and validates it
func parseResources(r io.Reader) ([]StoreResource, error) {
	dec := yaml.NewDecoder(r)
	var resources []StoreResource
	for i := 1; ; i++ {
		var res StoreResource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if res.Kind == "" && res.Metadata.Name == "" {
			continue
		}
		if res.Kind != "Store" {
			return nil, fmt.Errorf("document %d: unsupported resource kind: %q", i, res.Kind)
		}
		if strings.TrimSpace(res.Metadata.Name) == "" {
			return nil, fmt.Errorf("document %d: metadata.name is required", i)
		}
		resources = append(resources, res)
	}
	if len(resources) == 0 {
		return nil, errors.New("no store resources found")
	}
	return resources, nil
}

// applyStores requests every resource without a live store of the same name
func applyStores(ctx context.Context, svc *provision.Service, store storage.Store, resources []StoreResource) ([]applyOutcome, error) {
	recs, err := store.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]*types.StoreRecord)
	for _, rec := range recs {
		if rec.Status.Terminal() {
			continue
		}
		if _, seen := live[rec.Name]; !seen {
			live[rec.Name] = rec
		}
	}

	outcomes := make([]applyOutcome, 0, len(resources))
	for _, res := range resources {
		name := strings.TrimSpace(res.Metadata.Name)
		if existing, ok := live[name]; ok {
			outcomes = append(outcomes, applyOutcome{Name: name, ID: existing.ID, Status: existing.Status})
			continue
		}

		rec, err := svc.RequestProvision(ctx, provision.Request{
			Name:     name,
			Engine:   res.Spec.Engine,
			Template: res.Spec.Template,
		})
		if err != nil {
			return outcomes, fmt.Errorf("store %s: %w", name, err)
		}
		live[name] = rec
		outcomes = append(outcomes, applyOutcome{Name: name, ID: rec.ID, Created: true, Status: rec.Status})
	}
	return outcomes, nil
}
