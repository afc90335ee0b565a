package sharding

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// reasons an owner incarnation ended
const (
	reasonTimeout = "timeout"
	reasonCrash   = "crash"
	reasonStop    = "stop"
	reasonOther   = "other"
)

func ownerRestarts(owner, reason string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_owner_restarts_total{owner=%q,reason=%q}`, owner, reason))
}

func entityRestarts() *metrics.Counter {
	return metrics.GetOrCreateCounter(`dmem_entity_restarts_total`)
}

func droppedMessages(where string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_dropped_messages_total{where=%q}`, where))
}

func updateLatency(owner string) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`dmem_update_latency_seconds{owner=%q}`, owner))
}
