package snowflake

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_IDsStrictlyIncrease(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ids from one generator strictly increase", prop.ForAll(
		func(count int, worker int64) bool {
			g, err := NewGenerator(Config{WorkerID: worker})
			if err != nil {
				return false
			}
			var last int64
			for range count {
				id, err := g.NextID()
				if err != nil || id <= last {
					return false
				}
				last = id
			}
			return true
		},
		gen.IntRange(1, 5000),
		gen.Int64Range(0, MaxWorkerID),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ParseRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parse recovers node identity", prop.ForAll(
		func(dc, worker int64) bool {
			g, err := NewGenerator(Config{DatacenterID: dc, WorkerID: worker})
			if err != nil {
				return false
			}
			id, err := g.NextID()
			if err != nil {
				return false
			}
			_, gotDC, gotWorker, _ := Parse(id)
			return gotDC == dc && gotWorker == worker
		},
		gen.Int64Range(0, MaxDatacenterID),
		gen.Int64Range(0, MaxWorkerID),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
