package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newMetricExporter exports chief's counters and histograms to the
// collector named by telemetry.otlp-endpoint.
func newMetricExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	opts, err := metricExporterOptions(endpoint)
	if err != nil {
		return nil, err
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// metricExporterOptions accepts either a bare host:port, which is sent over
// plain HTTP to the default /v1/metrics path, or a full http(s) URL whose
// path replaces the default.
func metricExporterOptions(endpoint string) ([]otlpmetrichttp.Option, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("empty otlp endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		return []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		}, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("otlp endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("otlp endpoint %q: missing host", endpoint)
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(u.Host)}
	switch u.Scheme {
	case "http":
		opts = append(opts, otlpmetrichttp.WithInsecure())
	case "https":
	default:
		return nil, fmt.Errorf("otlp endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		opts = append(opts, otlpmetrichttp.WithURLPath(p))
	}
	return opts, nil
}
