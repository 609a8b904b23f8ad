package dispatcher

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/critterranch/structsync/internal/dispatcher"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
