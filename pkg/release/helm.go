package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/log"
	"github.com/rs/zerolog"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	helmrelease "helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

// DefaultTimeout bounds a single install, upgrade or uninstall
const DefaultTimeout = 5 * time.Minute

// HelmManager implements cluster.ReleaseManager with the Helm SDK.
// It never waits for workloads to become ready; readiness is observed by the
// reconciler on later passes.
type HelmManager struct {
	kubeconfig  string
	kubeContext string
	driver      string
	timeout     time.Duration
	settings    *cli.EnvSettings
	logger      zerolog.Logger

	// configFor builds the action configuration for a namespace
	configFor func(namespace string) (*action.Configuration, error)
}

// HelmConfig configures a HelmManager
type HelmConfig struct {
	Kubeconfig  string
	KubeContext string
	// Driver is the Helm storage driver (secret, configmap, memory); empty means secret
	Driver  string
	Timeout time.Duration
}

// NewHelmManager creates a Helm-backed release manager
func NewHelmManager(cfg HelmConfig) *HelmManager {
	settings := cli.New()
	settings.KubeConfig = cfg.Kubeconfig
	settings.KubeContext = cfg.KubeContext

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	m := &HelmManager{
		kubeconfig:  cfg.Kubeconfig,
		kubeContext: cfg.KubeContext,
		driver:      cfg.Driver,
		timeout:     timeout,
		settings:    settings,
		logger:      log.WithComponent("release"),
	}
	m.configFor = m.newActionConfig
	return m
}

func (m *HelmManager) newActionConfig(namespace string) (*action.Configuration, error) {
	flags := genericclioptions.NewConfigFlags(false)
	kubeconfig, kubeContext, ns := m.kubeconfig, m.kubeContext, namespace
	flags.KubeConfig = &kubeconfig
	flags.Context = &kubeContext
	flags.Namespace = &ns

	cfg := new(action.Configuration)
	if err := cfg.Init(flags, namespace, m.driver, m.debugf); err != nil {
		return nil, cluster.NewTransportError("helm init", err)
	}
	return cfg, nil
}

func (m *HelmManager) debugf(format string, v ...interface{}) {
	m.logger.Debug().Msgf(format, v...)
}

// InstallOrUpgrade installs the release when it has no history and upgrades it otherwise
func (m *HelmManager) InstallOrUpgrade(ctx context.Context, releaseName, namespace string, spec cluster.ChartSpec) error {
	chrt, err := m.loadChart(spec)
	if err != nil {
		return err
	}

	cfg, err := m.configFor(namespace)
	if err != nil {
		return err
	}

	history := action.NewHistory(cfg)
	history.Max = 1
	_, err = history.Run(releaseName)
	switch {
	case errors.Is(err, driver.ErrReleaseNotFound):
		install := action.NewInstall(cfg)
		install.ReleaseName = releaseName
		install.Namespace = namespace
		install.CreateNamespace = true
		install.Timeout = m.timeout

		if _, err := install.RunWithContext(ctx, chrt, spec.Values); err != nil {
			return helmError("helm install "+releaseName, err)
		}
		m.logger.Info().Str("release", releaseName).Str("namespace", namespace).Msg("Release installed")
		return nil

	case err != nil:
		return cluster.NewTransportError("helm history "+releaseName, err)
	}

	upgrade := action.NewUpgrade(cfg)
	upgrade.Namespace = namespace
	upgrade.Timeout = m.timeout
	if _, err := upgrade.RunWithContext(ctx, releaseName, chrt, spec.Values); err != nil {
		return helmError("helm upgrade "+releaseName, err)
	}
	m.logger.Info().Str("release", releaseName).Str("namespace", namespace).Msg("Release upgraded")
	return nil
}

// Uninstall removes the release; a missing release is not an error
func (m *HelmManager) Uninstall(ctx context.Context, releaseName, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg, err := m.configFor(namespace)
	if err != nil {
		return err
	}

	uninstall := action.NewUninstall(cfg)
	uninstall.IgnoreNotFound = true
	uninstall.Timeout = m.timeout
	if _, err := uninstall.Run(releaseName); err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return nil
		}
		return helmError("helm uninstall "+releaseName, err)
	}
	m.logger.Info().Str("release", releaseName).Str("namespace", namespace).Msg("Release uninstalled")
	return nil
}

// Installed reports whether the last revision of the release is deployed or
// still being applied. A missing, failed or uninstalled release reports false
// so the caller installs it again.
func (m *HelmManager) Installed(ctx context.Context, releaseName, namespace string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cfg, err := m.configFor(namespace)
	if err != nil {
		return false, err
	}

	last, err := cfg.Releases.Last(releaseName)
	if errors.Is(err, driver.ErrReleaseNotFound) {
		return false, nil
	}
	if err != nil {
		return false, cluster.NewTransportError("helm status "+releaseName, err)
	}
	if last.Info == nil {
		return false, nil
	}
	status := last.Info.Status
	return status == helmrelease.StatusDeployed || status.IsPending(), nil
}

// loadChart resolves a local path or repository reference and loads the chart
func (m *HelmManager) loadChart(spec cluster.ChartSpec) (*chart.Chart, error) {
	if spec.Ref == "" {
		return nil, fmt.Errorf("chart reference is empty")
	}

	pathOpts := action.ChartPathOptions{Version: spec.Version}
	path, err := pathOpts.LocateChart(spec.Ref, m.settings)
	if err != nil {
		return nil, fmt.Errorf("failed to locate chart %s: %w", spec.Ref, err)
	}

	chrt, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart %s: %w", path, err)
	}
	return chrt, nil
}

// helmError marks err as a transport error only when the control plane could
// not be reached or answered with a retryable status. Render and validation
// errors stay plain and fail the store on the first attempt.
func helmError(op string, err error) error {
	if controlPlaneError(err) {
		return cluster.NewTransportError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func controlPlaneError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, cluster.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return true
	case apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		apierrors.IsUnexpectedServerError(err):
		return true
	}
	return false
}
