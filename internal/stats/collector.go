package stats

import (
	"sort"
	"sync"
	"time"
)

// TopicStats holds per-topic relay counters.
type TopicStats struct {
	Messages uint64
	Bytes    uint64
}

// Collector aggregates broker relay statistics.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	Topics map[string]*TopicStats

	RelayErrors   uint64
	LogRecords    uint64
	LogBytes      uint64
	LogFlushes    uint64
	LogErrors     uint64
	LastMessageAt time.Time

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime: time.Now(),
		Topics:    make(map[string]*TopicStats),
	}
}

func (c *Collector) getOrCreate(topic string) *TopicStats {
	if _, ok := c.Topics[topic]; !ok {
		c.Topics[topic] = &TopicStats{}
	}
	return c.Topics[topic]
}

// RecordRelayed records one relayed multipart message.
func (c *Collector) RecordRelayed(parts [][]byte) {
	topic := ""
	var size uint64
	if len(parts) > 0 {
		topic = string(parts[0])
	}
	for _, p := range parts {
		size += uint64(len(p))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.getOrCreate(topic)
	s.Messages++
	s.Bytes += size
	c.LastMessageAt = time.Now()
}

// RecordRelayError records a message that could not be forwarded.
func (c *Collector) RecordRelayError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RelayErrors++
}

// RecordLogged records a record appended to the traffic log.
func (c *Collector) RecordLogged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogRecords++
	c.LogBytes += uint64(n)
}

// RecordFlush records a log flush.
func (c *Collector) RecordFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogFlushes++
}

// RecordLogError records a failed log write or flush.
func (c *Collector) RecordLogError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogErrors++
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration()
}

func (c *Collector) duration() time.Duration {
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalMessages returns the number of relayed messages over all topics.
func (c *Collector) TotalMessages() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, s := range c.Topics {
		total += s.Messages
	}
	return total
}

// TotalBytes returns the number of relayed payload bytes over all topics.
func (c *Collector) TotalBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, s := range c.Topics {
		total += s.Bytes
	}
	return total
}

// TopicNames returns the seen topics in sorted order.
func (c *Collector) TopicNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.Topics))
	for name := range c.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		Topics:        make(map[string]*TopicStats, len(c.Topics)),
		RelayErrors:   c.RelayErrors,
		LogRecords:    c.LogRecords,
		LogBytes:      c.LogBytes,
		LogFlushes:    c.LogFlushes,
		LogErrors:     c.LogErrors,
		LastMessageAt: c.LastMessageAt,
	}
	for k, v := range c.Topics {
		snap.Topics[k] = &TopicStats{Messages: v.Messages, Bytes: v.Bytes}
	}
	return snap
}
