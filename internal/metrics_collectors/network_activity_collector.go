package metrics_collectors

import (
	"fmt"
	"os"
	"time"

	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/benmeehan/ota-supervisor/pkg/file"
	"github.com/rs/zerolog"
)

// NetworkActivityCollector estimates throughput from the kernel's per-interface
// rx/tx byte counters. The estimate is purely informational for the
// presentation layer; when the counters are unavailable the feature degrades
// silently instead of failing the worker.
type NetworkActivityCollector struct {
	Logger     zerolog.Logger
	FileClient file.FileOperations

	rxPath string
	txPath string

	// cache previous total for delta calculation
	lastTotal uint64
	primed    bool
}

// NewNetworkActivityCollector builds a collector for the given interface name.
func NewNetworkActivityCollector(iface string, fileClient file.FileOperations, logger zerolog.Logger) *NetworkActivityCollector {
	return &NetworkActivityCollector{
		Logger:     logger,
		FileClient: fileClient,
		rxPath:     fmt.Sprintf("/sys/class/net/%s/statistics/rx_bytes", iface),
		txPath:     fmt.Sprintf("/sys/class/net/%s/statistics/tx_bytes", iface),
	}
}

// Name returns the identifier for the network activity collector.
func (n *NetworkActivityCollector) Name() string {
	return "network_activity"
}

// Prime records the baseline counter total. It must be called once before
// Collect. ErrCountersUnavailable means the interface has no readable
// counters and sampling should not start at all.
func (n *NetworkActivityCollector) Prime() error {
	total, err := n.readTotal()
	if err != nil {
		return err
	}
	n.lastTotal = total
	n.primed = true
	return nil
}

// Collect computes the throughput sample for the elapsed interval from the
// non-negative counter delta. It returns an error only when a counter file
// disappeared, which permanently disables sampling.
func (n *NetworkActivityCollector) Collect(interval time.Duration) (models.NetworkSample, error) {
	if !n.primed {
		return models.NetworkSample{}, fmt.Errorf("network activity collector not primed")
	}

	total, err := n.readTotal()
	if err != nil {
		return models.NetworkSample{}, err
	}

	var delta uint64
	if total > n.lastTotal {
		delta = total - n.lastTotal
	}
	n.lastTotal = total

	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}

	return models.NetworkSample{
		Timestamp: time.Now(),
		KBps:      float64(delta) / 1024.0 / secs,
	}, nil
}

func (n *NetworkActivityCollector) readTotal() (uint64, error) {
	rx, err := n.FileClient.ReadCounter(n.rxPath)
	if err != nil {
		if os.IsNotExist(err) {
			n.Logger.Debug().Str("path", n.rxPath).Msg("Network counter unavailable")
		}
		return 0, err
	}
	tx, err := n.FileClient.ReadCounter(n.txPath)
	if err != nil {
		if os.IsNotExist(err) {
			n.Logger.Debug().Str("path", n.txPath).Msg("Network counter unavailable")
		}
		return 0, err
	}
	return rx + tx, nil
}
