/*
Package health probes storefront URLs for the hard readiness policy.

Under the soft policy a store becomes READY as soon as every pod in its
namespace is ready. Under the hard policy the reconciler additionally asks a
Prober whether the store URL answers, and keeps the store PROVISIONING until
it does. The provisioning timeout still applies while waiting.

# Checks

HTTPChecker issues a single GET and treats exactly one status code (200 by
default) as healthy. Redirects are not followed, so an ingress that redirects
to a login page or a default backend does not count as a served store.

HTTPProber wraps HTTPChecker for the reconciler:

	prober := &health.HTTPProber{Timeout: 5 * time.Second}
	result := prober.Probe(ctx, "http://ab12cd34.apps.local")
	if !result.Healthy {
		// stay PROVISIONING
	}

The host must resolve before a request is made. In local clusters where the
wildcard store domain is not in DNS, set Address to the ingress controller's
host:port; requests are then sent there with the store host in the Host
header and DNS resolution is skipped.

A failed probe is never an error for the store. It only means "not yet".
*/
package health
