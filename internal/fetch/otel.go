package fetch

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/WazeDev/hn-navpoints/internal/fetch"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
