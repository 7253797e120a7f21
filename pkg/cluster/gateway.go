package cluster

import (
	"context"

	"github.com/cuemby/storeforge/pkg/types"
)

// Labels applied to namespaces created by storeforge
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelStoreID   = "storeforge.io/store-id"
	ManagedByValue = "storeforge"
)

// ChartSpec identifies the chart and values installed for a store
type ChartSpec struct {
	// Ref is a local chart path, a packaged chart archive or a repo/chart reference
	Ref     string
	Version string
	Values  map[string]interface{}
}

// Gateway performs idempotent operations against the orchestration platform.
//
// Not-found is never an error: NamespaceExists reports false, the delete and
// uninstall operations succeed, and ResolveIngressHost returns "". Failures to
// reach or talk to the control plane are returned as *TransportError.
type Gateway interface {
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	CreateNamespace(ctx context.Context, namespace string) error
	DeleteNamespace(ctx context.Context, namespace string) error

	// InstallOrUpgradeRelease creates the namespace first when it is missing
	InstallOrUpgradeRelease(ctx context.Context, releaseName, namespace string, chart ChartSpec) error
	UninstallRelease(ctx context.Context, releaseName, namespace string) error
	// ReleaseInstalled reports false for a release that is absent, failed or uninstalled
	ReleaseInstalled(ctx context.Context, releaseName, namespace string) (bool, error)

	// PodsReady reports false for a namespace without pods
	PodsReady(ctx context.Context, namespace string) (bool, error)
	ResolveIngressHost(ctx context.Context, namespace string) (string, error)

	// Observe gathers the probes above into one Observation
	Observe(ctx context.Context, namespace, releaseName string) (types.Observation, error)
}

// ReleaseManager installs and removes packaged chart releases
type ReleaseManager interface {
	InstallOrUpgrade(ctx context.Context, releaseName, namespace string, chart ChartSpec) error
	Uninstall(ctx context.Context, releaseName, namespace string) error
	Installed(ctx context.Context, releaseName, namespace string) (bool, error)
}
