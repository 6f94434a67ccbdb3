package sock

import (
	"fmt"

	metrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"
)

type activeStats struct {
	bytesRead metrics.Counter
	bytesSent metrics.Counter

	bytesQueued  metrics.Counter
	bytesFlushed metrics.Counter

	writesCompleted metrics.Counter
	writesFailed    metrics.Counter
}

func newActiveStats(id uuid.UUID) *activeStats {
	r := metrics.DefaultRegistry

	return &activeStats{
		bytesRead: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.BytesRead"), r),
		bytesSent: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.BytesSent"), r),
		bytesQueued: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.BytesQueued"), r),
		bytesFlushed: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.BytesFlushed"), r),
		writesCompleted: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.WritesCompleted"), r),
		writesFailed: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.WritesFailed"), r)}
}

type passiveStats struct {
	accepted metrics.Counter
}

func newPassiveStats(id uuid.UUID) *passiveStats {
	return &passiveStats{
		accepted: metrics.NewRegisteredCounter(
			newSocketMetricName(id, "sock.Accepted"), metrics.DefaultRegistry)}
}

func newSocketMetricName(id uuid.UUID, name string) string {
	return fmt.Sprintf("-- %v --: %s", id, name)
}
