package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/storeforge/pkg/cluster"
	"github.com/cuemby/storeforge/pkg/health"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeGateway keeps cluster state in memory and counts every call
type fakeGateway struct {
	mu sync.Mutex

	namespaces map[string]bool
	podsReady  map[string]bool
	hosts      map[string]string
	installed  map[string]cluster.ChartSpec

	calls map[string]int

	// errs returns an error for a method name once per entry
	errs map[string][]error
	// panics makes Observe panic for a namespace
	panics map[string]bool
	// onInstall runs before an install is recorded
	onInstall func(namespace string)
	// onObserve runs before an observation is made
	onObserve func(namespace string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		namespaces: make(map[string]bool),
		podsReady:  make(map[string]bool),
		hosts:      make(map[string]string),
		installed:  make(map[string]cluster.ChartSpec),
		calls:      make(map[string]int),
		errs:       make(map[string][]error),
		panics:     make(map[string]bool),
	}
}

func (g *fakeGateway) record(method string) error {
	g.calls[method]++
	queue := g.errs[method]
	if len(queue) == 0 {
		return nil
	}
	g.errs[method] = queue[1:]
	return queue[0]
}

func (g *fakeGateway) failNext(method string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[method] = append(g.errs[method], errs...)
}

func (g *fakeGateway) count(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func (g *fakeGateway) setReady(namespace string, ready bool, host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.podsReady[namespace] = ready
	g.hosts[namespace] = host
}

func (g *fakeGateway) hasNamespace(namespace string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.namespaces[namespace]
}

// provisioned makes a store look installed: namespace plus release
func (g *fakeGateway) provisioned(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ns := types.NamespaceFor(id)
	g.namespaces[ns] = true
	g.installed[ns+"/"+types.ReleaseNameFor(types.EngineMedusa, id)] = cluster.ChartSpec{}
}

func (g *fakeGateway) removeNamespace(namespace string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.namespaces, namespace)
}

func (g *fakeGateway) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("NamespaceExists"); err != nil {
		return false, err
	}
	return g.namespaces[namespace], nil
}

func (g *fakeGateway) CreateNamespace(_ context.Context, namespace string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("CreateNamespace"); err != nil {
		return err
	}
	g.namespaces[namespace] = true
	return nil
}

func (g *fakeGateway) DeleteNamespace(_ context.Context, namespace string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("DeleteNamespace"); err != nil {
		return err
	}
	delete(g.namespaces, namespace)
	return nil
}

func (g *fakeGateway) InstallOrUpgradeRelease(_ context.Context, releaseName, namespace string, chart cluster.ChartSpec) error {
	g.mu.Lock()
	hook := g.onInstall
	g.mu.Unlock()
	if hook != nil {
		hook(namespace)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("InstallOrUpgradeRelease"); err != nil {
		return err
	}
	g.namespaces[namespace] = true
	g.installed[namespace+"/"+releaseName] = chart
	return nil
}

func (g *fakeGateway) UninstallRelease(_ context.Context, releaseName, namespace string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("UninstallRelease"); err != nil {
		return err
	}
	delete(g.installed, namespace+"/"+releaseName)
	return nil
}

func (g *fakeGateway) ReleaseInstalled(_ context.Context, releaseName, namespace string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("ReleaseInstalled"); err != nil {
		return false, err
	}
	_, ok := g.installed[namespace+"/"+releaseName]
	return ok, nil
}

func (g *fakeGateway) PodsReady(_ context.Context, namespace string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("PodsReady"); err != nil {
		return false, err
	}
	return g.podsReady[namespace], nil
}

func (g *fakeGateway) ResolveIngressHost(_ context.Context, namespace string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("ResolveIngressHost"); err != nil {
		return "", err
	}
	return g.hosts[namespace], nil
}

func (g *fakeGateway) Observe(_ context.Context, namespace, releaseName string) (types.Observation, error) {
	g.mu.Lock()
	hook := g.onObserve
	g.mu.Unlock()
	if hook != nil {
		hook(namespace)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panics[namespace] {
		panic("observe exploded for " + namespace)
	}
	if err := g.record("Observe"); err != nil {
		return types.Observation{}, err
	}
	if !g.namespaces[namespace] {
		return types.Observation{}, nil
	}
	_, installed := g.installed[namespace+"/"+releaseName]
	return types.Observation{
		NamespaceExists:  true,
		ReleaseInstalled: installed,
		PodsReady:        g.podsReady[namespace],
		IngressHost:      g.hosts[namespace],
	}, nil
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeProber answers probes from a fixed result
type fakeProber struct {
	mu      sync.Mutex
	healthy bool
	urls    []string
}

func (p *fakeProber) Probe(_ context.Context, url string) health.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return health.Result{Healthy: p.healthy, Message: "fake"}
}

func (p *fakeProber) set(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s storage.Store, id string, status types.Status, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.CreateStore(context.Background(), &types.StoreRecord{
		ID:        id,
		Name:      "store " + id,
		Engine:    types.EngineMedusa,
		Template:  types.DefaultTemplate,
		Namespace: types.NamespaceFor(id),
		Status:    status,
		CreatedAt: createdAt,
	}))
}

func get(t *testing.T, s storage.Store, id string) *types.StoreRecord {
	t.Helper()
	rec, err := s.GetStore(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func actions(t *testing.T, s storage.Store, id string) []types.Action {
	t.Helper()
	events, err := s.ListEvents(context.Background(), id)
	require.NoError(t, err)
	out := make([]types.Action, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}
