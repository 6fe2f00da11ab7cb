package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/raymondelooff/probe-telemetry-hub/telemetry"
	"go.uber.org/zap"
)

const (
	probePrefix = "28-"
	slaveFile   = "w1_slave"
)

var errBadCRC = errors.New("w1: CRC check failed")

// W1Bus reads DS18B20 probes through the kernel 1-Wire sysfs interface
type W1Bus struct {
	base     string
	sensors  []telemetry.SensorID
	devices  map[telemetry.SensorID]string
	attempts uint
	delay    time.Duration
	logger   *zap.SugaredLogger
}

// DiscoverProbes lists the DS18B20 device ids under base, sorted by name
func DiscoverProbes(base string) ([]string, error) {
	entries, err := ioutil.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("w1: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), probePrefix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// NewW1Bus binds every configured alias to a device. Explicit device ids
// win; the remaining aliases take the discovered probes in sorted order.
// An alias left without a device always reads as absent. A missing bus
// binds nothing from discovery; ReadAll reports it on every cycle.
func NewW1Bus(base string, sensors []telemetry.SensorConfig, logger *zap.SugaredLogger) *W1Bus {
	discovered, err := DiscoverProbes(base)
	if err != nil {
		logger.Warnw("w1: bus unavailable, no probes discovered", "base", base, "error", err)
	}

	b := &W1Bus{
		base:     base,
		devices:  make(map[telemetry.SensorID]string, len(sensors)),
		attempts: 3,
		delay:    200 * time.Millisecond,
		logger:   logger,
	}

	used := make(map[string]bool, len(sensors))
	for _, s := range sensors {
		b.sensors = append(b.sensors, telemetry.SensorID(s.Alias))
		if s.Device != "" {
			b.devices[telemetry.SensorID(s.Alias)] = s.Device
			used[s.Device] = true
		}
	}

	free := make([]string, 0, len(discovered))
	for _, id := range discovered {
		if !used[id] {
			free = append(free, id)
		}
	}

	for _, s := range sensors {
		alias := telemetry.SensorID(s.Alias)
		if _, ok := b.devices[alias]; ok {
			continue
		}
		if len(free) == 0 {
			logger.Warnw("w1: no probe for alias", "alias", alias)
			continue
		}
		b.devices[alias] = free[0]
		free = free[1:]
	}

	for _, alias := range b.sensors {
		if dev, ok := b.devices[alias]; ok {
			logger.Infow("w1: probe bound", "alias", alias, "device", dev)
		}
	}

	return b
}

// ReadAll reads every bound probe. A probe that cannot be read is absent;
// an error is returned only when the bus itself is gone or ctx ends.
func (b *W1Bus) ReadAll(ctx context.Context) (map[telemetry.SensorID]*float64, error) {
	if _, err := ioutil.ReadDir(b.base); err != nil {
		return nil, fmt.Errorf("w1: bus unavailable: %w", err)
	}

	readings := make(map[telemetry.SensorID]*float64, len(b.sensors))
	for _, alias := range b.sensors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dev, ok := b.devices[alias]
		if !ok {
			readings[alias] = nil
			continue
		}

		v, err := b.readProbe(dev)
		if err != nil {
			b.logger.Debugw("w1: probe read failed", "alias", alias, "device", dev, "error", err)
			readings[alias] = nil
			continue
		}
		readings[alias] = &v
	}

	return readings, nil
}

func (b *W1Bus) readProbe(dev string) (float64, error) {
	var celsius float64

	err := retry.Do(
		func() error {
			raw, err := ioutil.ReadFile(filepath.Join(b.base, dev, slaveFile))
			if err != nil {
				return err
			}
			celsius, err = ParseSlave(raw)
			return err
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
	)

	return celsius, err
}

// ParseSlave decodes the contents of a w1_slave file into degrees Celsius.
// The first line must end with the CRC verdict YES and the second must
// carry t=<millidegrees>.
func ParseSlave(raw []byte) (float64, error) {
	lines := strings.Split(string(bytes.TrimSpace(raw)), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("w1: short read (%d lines)", len(lines))
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errBadCRC
	}

	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, fmt.Errorf("w1: no temperature field")
	}

	milli, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("w1: bad temperature %q: %w", parts[1], err)
	}

	return float64(milli) / 1000, nil
}
