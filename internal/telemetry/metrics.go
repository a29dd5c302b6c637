package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var meter metric.Meter

// HTTP metrics
var (
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter
)

// Proximity metrics
var (
	LocationPushesTotal  metric.Int64Counter
	NearbyQueryDuration  metric.Float64Histogram
	NearbyResultsPerCall metric.Int64Histogram
)

// InitMeter initializes OpenTelemetry meter with OTLP HTTP exporter
func InitMeter(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		log.Println("SIGNOZ_ENDPOINT not set, metrics disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
	)

	otel.SetMeterProvider(mp)

	meter = mp.Meter(serviceName)

	if err := initHTTPMetrics(); err != nil {
		return nil, err
	}
	if err := initProximityMetrics(); err != nil {
		return nil, err
	}

	log.Printf("OpenTelemetry metrics initialized with endpoint: %s", endpoint)

	return mp.Shutdown, nil
}

// initHTTPMetrics creates HTTP-related metrics instruments
func initHTTPMetrics() error {
	var err error

	HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// initProximityMetrics creates instruments for the location subsystem
func initProximityMetrics() error {
	var err error

	LocationPushesTotal, err = meter.Int64Counter(
		"location_pushes_total",
		metric.WithDescription("Total number of accepted location pushes"),
		metric.WithUnit("{push}"),
	)
	if err != nil {
		return err
	}

	NearbyQueryDuration, err = meter.Float64Histogram(
		"nearby_query_duration_seconds",
		metric.WithDescription("Proximity query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return err
	}

	NearbyResultsPerCall, err = meter.Int64Histogram(
		"nearby_results_per_query",
		metric.WithDescription("Number of users returned per proximity query"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordLocationPush counts one accepted push. Safe to call before
// InitMeter; instruments are nil-guarded.
func RecordLocationPush() {
	if LocationPushesTotal != nil {
		LocationPushesTotal.Add(context.Background(), 1)
	}
}

// ObserveNearbyQuery records the duration and result size of one
// proximity query.
func ObserveNearbyQuery(d time.Duration, results int) {
	ctx := context.Background()
	if NearbyQueryDuration != nil {
		NearbyQueryDuration.Record(ctx, d.Seconds())
	}
	if NearbyResultsPerCall != nil {
		NearbyResultsPerCall.Record(ctx, int64(results))
	}
}

// Meter returns the global meter
func Meter() metric.Meter {
	return meter
}
