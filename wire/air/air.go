// Package air simulates the radio channel between a simulated advertiser
// and nearby scanners: path loss, RSSI jitter and dropped packets.
package air

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/proximity"
)

// Config controls the realism of the channel
type Config struct {
	BaseRSSI     int // Default: -50 dBm at one metre
	RSSIVariance int // Default: 6 dBm of fluctuation either way

	// Fraction of advertising PDUs a scanner misses
	PacketLossRate float64 // Default: 0.015

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

func DefaultConfig() *Config {
	return &Config{
		BaseRSSI:       -50,
		RSSIVariance:   6,
		PacketLossRate: 0.015,
	}
}

// PerfectConfig never drops a packet and has no jitter
func PerfectConfig() *Config {
	cfg := DefaultConfig()
	cfg.RSSIVariance = 0
	cfg.PacketLossRate = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator draws per-packet RSSI and loss
type Simulator struct {
	config *Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(config *Config) *Simulator {
	if config == nil {
		config = DefaultConfig()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		config: config,
		rng:    rng,
	}
}

// ShouldPacketSucceed returns true if the scanner hears this PDU
func (s *Simulator) ShouldPacketSucceed() bool {
	if s.config.PacketLossRate <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.config.PacketLossRate
}

// GenerateRSSI returns an RSSI for a sender distance metres away
func (s *Simulator) GenerateRSSI(distance float64) int {
	if distance < 0.1 {
		distance = 0.1
	}

	// Free space path loss, ~20 dB per decade of distance
	rssi := float64(s.config.BaseRSSI) - 20*math.Log10(distance)

	if s.config.RSSIVariance > 0 {
		s.mu.Lock()
		variance := s.rng.Intn(s.config.RSSIVariance*2+1) - s.config.RSSIVariance
		s.mu.Unlock()
		rssi += float64(variance)
	}

	// Clamp to realistic BLE range (-100 to -20 dBm)
	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}

	return int(math.Round(rssi))
}

// Channel carries advertising PDUs from one sender to every scanner. It is
// a proximity.Source.
type Channel struct {
	sim *Simulator

	mu       sync.Mutex
	distance float64
	scanners map[int]func(proximity.Sighting)
	nextID   int
}

// NewChannel places the sender one metre away.
func NewChannel(config *Config) *Channel {
	return &Channel{
		sim:      NewSimulator(config),
		distance: 1,
		scanners: make(map[int]func(proximity.Sighting)),
	}
}

// SetDistance moves the sender, in metres.
func (c *Channel) SetDistance(metres float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distance = metres
}

func (c *Channel) Distance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distance
}

// Transmit puts one legacy advertising PDU on air. Each scanner draws its
// own loss and RSSI.
func (c *Channel) Transmit(frame []byte) {
	c.mu.Lock()
	distance := c.distance
	scanners := make([]func(proximity.Sighting), 0, len(c.scanners))
	for _, fn := range c.scanners {
		scanners = append(scanners, fn)
	}
	c.mu.Unlock()

	for _, fn := range scanners {
		if !c.sim.ShouldPacketSucceed() {
			logger.Trace("Air", "packet lost")
			continue
		}
		s, err := proximity.SightingFromPDU(frame, c.sim.GenerateRSSI(distance))
		if err != nil {
			logger.Warn("Air", "⚠️  Undecodable PDU: %v", err)
			return
		}
		fn(s)
	}
}

// Scan delivers every PDU heard until ctx is done.
func (c *Channel) Scan(ctx context.Context, fn func(proximity.Sighting)) error {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.scanners[id] = fn
	c.mu.Unlock()

	<-ctx.Done()

	c.mu.Lock()
	delete(c.scanners, id)
	c.mu.Unlock()
	return ctx.Err()
}
