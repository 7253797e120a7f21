package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeGateway implements Gateway on client-go for namespaces, pods and
// ingresses, and delegates releases to a ReleaseManager
type KubeGateway struct {
	client   kubernetes.Interface
	releases ReleaseManager
	logger   zerolog.Logger
}

// NewKubeGateway creates a gateway from an existing clientset
func NewKubeGateway(client kubernetes.Interface, releases ReleaseManager) *KubeGateway {
	return &KubeGateway{
		client:   client,
		releases: releases,
		logger:   log.WithComponent("gateway"),
	}
}

// RESTConfig loads a client configuration from kubeconfig (or the default
// loading rules and in-cluster config when empty) using the named context
func RESTConfig(kubeconfig, kubeContext string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg, nil
}

// NewClientset builds a clientset for cfg
func NewClientset(cfg *rest.Config) (kubernetes.Interface, error) {
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}

func (g *KubeGateway) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := g.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, NewTransportError("get namespace "+namespace, err)
	}
	return true, nil
}

func (g *KubeGateway) CreateNamespace(ctx context.Context, namespace string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   namespace,
			Labels: namespaceLabels(namespace),
		},
	}

	_, err := g.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		g.logger.Debug().Str("namespace", namespace).Msg("Namespace already exists")
		return nil
	}
	if err != nil {
		return NewTransportError("create namespace "+namespace, err)
	}

	g.logger.Info().Str("namespace", namespace).Msg("Namespace created")
	return nil
}

// DeleteNamespace starts namespace removal and returns without waiting for
// the namespace to disappear
func (g *KubeGateway) DeleteNamespace(ctx context.Context, namespace string) error {
	policy := metav1.DeletePropagationBackground
	err := g.client.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return NewTransportError("delete namespace "+namespace, err)
	}

	g.logger.Info().Str("namespace", namespace).Msg("Namespace deletion requested")
	return nil
}

func (g *KubeGateway) InstallOrUpgradeRelease(ctx context.Context, releaseName, namespace string, chart ChartSpec) error {
	if err := g.CreateNamespace(ctx, namespace); err != nil {
		return err
	}
	if err := g.releases.InstallOrUpgrade(ctx, releaseName, namespace, chart); err != nil {
		return fmt.Errorf("failed to install release %s: %w", releaseName, err)
	}

	g.logger.Info().
		Str("namespace", namespace).
		Str("release", releaseName).
		Str("chart", chart.Ref).
		Msg("Release installed")
	return nil
}

func (g *KubeGateway) UninstallRelease(ctx context.Context, releaseName, namespace string) error {
	if err := g.releases.Uninstall(ctx, releaseName, namespace); err != nil {
		return fmt.Errorf("failed to uninstall release %s: %w", releaseName, err)
	}
	return nil
}

func (g *KubeGateway) ReleaseInstalled(ctx context.Context, releaseName, namespace string) (bool, error) {
	installed, err := g.releases.Installed(ctx, releaseName, namespace)
	if err != nil {
		return false, fmt.Errorf("failed to read release %s: %w", releaseName, err)
	}
	return installed, nil
}

func (g *KubeGateway) PodsReady(ctx context.Context, namespace string) (bool, error) {
	pods, err := g.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, NewTransportError("list pods in "+namespace, err)
	}
	return AllPodsReady(pods.Items), nil
}

// AllPodsReady reports whether every pod is ready. An empty list is not ready.
func AllPodsReady(pods []corev1.Pod) bool {
	if len(pods) == 0 {
		return false
	}
	for i := range pods {
		if !PodReady(&pods[i]) {
			return false
		}
	}
	return true
}

// PodReady reports whether a pod completed successfully, or is running with
// every container ready
func PodReady(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return true
	case corev1.PodRunning:
		if len(pod.Status.ContainerStatuses) == 0 {
			return false
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if !cs.Ready {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ResolveIngressHost returns the first rule host of the first ingress in the
// namespace, ordered by name
func (g *KubeGateway) ResolveIngressHost(ctx context.Context, namespace string) (string, error) {
	list, err := g.client.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", NewTransportError("list ingresses in "+namespace, err)
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	for _, ing := range items {
		for _, rule := range ing.Spec.Rules {
			if host := strings.TrimSpace(rule.Host); host != "" {
				return host, nil
			}
		}
	}
	return "", nil
}

func (g *KubeGateway) Observe(ctx context.Context, namespace, releaseName string) (types.Observation, error) {
	var obs types.Observation

	exists, err := g.NamespaceExists(ctx, namespace)
	if err != nil {
		return obs, err
	}
	if !exists {
		return obs, nil
	}
	obs.NamespaceExists = true

	if obs.ReleaseInstalled, err = g.ReleaseInstalled(ctx, releaseName, namespace); err != nil {
		return obs, err
	}
	if obs.PodsReady, err = g.PodsReady(ctx, namespace); err != nil {
		return obs, err
	}
	if obs.IngressHost, err = g.ResolveIngressHost(ctx, namespace); err != nil {
		return obs, err
	}
	return obs, nil
}

func namespaceLabels(namespace string) map[string]string {
	labels := map[string]string{LabelManagedBy: ManagedByValue}
	if id, ok := strings.CutPrefix(namespace, types.NamespacePrefix); ok && id != "" {
		labels[LabelStoreID] = id
	}
	return labels
}
