package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reporter outputs relay statistics to the log and/or a JSON file.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, intervalSec int, exportFile string) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
	}
}

// StartPeriodicReport begins periodic statistics reporting in a goroutine.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info(r.FormatReport())
			}
		}
	}()
}

// PrintFinalReport logs the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	log.Info(r.FormatReport())
}

// ExportJSON exports statistics to a JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()
	topics := make(map[string]interface{}, len(snap.Topics))
	for name, s := range snap.Topics {
		topics[name] = map[string]interface{}{
			"messages": s.Messages,
			"bytes":    s.Bytes,
		}
	}

	export := map[string]interface{}{
		"start_time":     snap.StartTime.Format(time.RFC3339),
		"end_time":       snap.EndTime.Format(time.RFC3339),
		"duration_sec":   snap.Duration().Seconds(),
		"messages_total": snap.TotalMessages(),
		"bytes_total":    snap.TotalBytes(),
		"relay_errors":   snap.RelayErrors,
		"topics":         topics,
		"log": map[string]interface{}{
			"records": snap.LogRecords,
			"bytes":   snap.LogBytes,
			"flushes": snap.LogFlushes,
			"errors":  snap.LogErrors,
		},
	}

	if duration := snap.Duration().Seconds(); duration > 0 {
		export["throughput_msg_per_sec"] = float64(snap.TotalMessages()) / duration
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== Bus Broker Statistics (elapsed: %s) ===\n", elapsed.Round(time.Second)))
	sb.WriteString("Topics:\n")
	for _, name := range snap.TopicNames() {
		s := snap.Topics[name]
		sb.WriteString(fmt.Sprintf("  %-40s msgs=%-8d bytes=%-10d\n", name+":", s.Messages, s.Bytes))
	}

	sb.WriteString(fmt.Sprintf("Relayed: %d msgs, %d bytes, %d errors\n",
		snap.TotalMessages(), snap.TotalBytes(), snap.RelayErrors))
	sb.WriteString(fmt.Sprintf("Log:     %d records, %d bytes, %d flushes, %d errors\n",
		snap.LogRecords, snap.LogBytes, snap.LogFlushes, snap.LogErrors))

	if elapsed.Seconds() > 0 {
		sb.WriteString(fmt.Sprintf("Throughput: %.1f msg/s\n", float64(snap.TotalMessages())/elapsed.Seconds()))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
