package mstore

import (
	"fmt"

	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/VictoriaMetrics/metrics"
)

func writesTotal(role membership.Role, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_store_writes_total{role=%q,result=%q}`, role, result))
}

func writeDuration(role membership.Role) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`dmem_store_write_duration_seconds{role=%q}`, role))
}

func recoveriesTotal(role membership.Role, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_store_recoveries_total{role=%q,result=%q}`, role, result))
}

func snapshotFailures(role membership.Role) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_store_snapshot_failures_total{role=%q}`, role))
}

func compactionFailures(role membership.Role) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_store_compaction_failures_total{role=%q}`, role))
}

func injectedFaults(role membership.Role, fault membership.Fault) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmem_store_injected_faults_total{role=%q,fault=%q}`, role, fault))
}
