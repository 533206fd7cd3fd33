package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC) in milliseconds.
	Epoch int64 = 1704067200000

	datacenterBits uint8 = 5
	workerBits     uint8 = 5
	sequenceBits   uint8 = 12

	MaxDatacenterID int64 = -1 ^ (-1 << datacenterBits)
	MaxWorkerID     int64 = -1 ^ (-1 << workerBits)

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits
	sequenceMask    = -1 ^ (-1 << sequenceBits)

	// maxBackwardDrift is how far the clock may step back before NextID gives up.
	maxBackwardDrift = 10 * time.Millisecond
)

var (
	ErrInvalidWorkerID     = errors.New("worker ID exceeds maximum value")
	ErrInvalidDatacenterID = errors.New("datacenter ID exceeds maximum value")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator produces 63-bit IDs that increase strictly for a single
// generator: 41 bits of milliseconds since Epoch, 5 bits datacenter,
// 5 bits worker and a 12 bit per-millisecond sequence.
type Generator struct {
	mu sync.Mutex

	datacenterID int64
	workerID     int64
	now          func() int64

	sequence      int64
	lastTimestamp int64
}

// Config identifies this node. Two live generators must never share a pair.
type Config struct {
	DatacenterID int64
	WorkerID     int64
}

func NewGenerator(config Config) (*Generator, error) {
	if config.WorkerID < 0 || config.WorkerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	if config.DatacenterID < 0 || config.DatacenterID > MaxDatacenterID {
		return nil, ErrInvalidDatacenterID
	}
	return &Generator{
		datacenterID: config.DatacenterID,
		workerID:     config.WorkerID,
		now:          func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns an ID greater than every ID this generator returned before.
// A clock that steps back by less than maxBackwardDrift is waited out.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.now()
	if timestamp < g.lastTimestamp {
		if time.Duration(g.lastTimestamp-timestamp)*time.Millisecond > maxBackwardDrift {
			return 0, ErrClockMovedBackwards
		}
		timestamp = g.waitUntil(g.lastTimestamp)
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			timestamp = g.waitUntil(g.lastTimestamp + 1)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return ((timestamp - Epoch) << timestampShift) |
		(g.datacenterID << datacenterShift) |
		(g.workerID << workerShift) |
		g.sequence, nil
}

func (g *Generator) waitUntil(target int64) int64 {
	timestamp := g.now()
	for timestamp < target {
		time.Sleep(100 * time.Microsecond)
		timestamp = g.now()
	}
	return timestamp
}

// Time returns the wall-clock millisecond encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + Epoch)
}

// Parse splits id into its components.
func Parse(id int64) (timestamp, datacenterID, workerID, sequence int64) {
	timestamp = (id >> timestampShift) + Epoch
	datacenterID = (id >> datacenterShift) & MaxDatacenterID
	workerID = (id >> workerShift) & MaxWorkerID
	sequence = id & sequenceMask
	return
}
