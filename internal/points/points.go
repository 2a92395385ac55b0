// Package points turns deposited waste counts into reward points.
package points

import (
	"fmt"

	"github.com/dukerupert/smartbin/internal/model"
)

// Default weights. Cans are worth 7; an earlier revision used 6.
const (
	DefaultPlasticBottle = 1
	DefaultCan           = 7
)

// Policy holds the per-item point weights.
type Policy struct {
	PlasticBottle int
	Can           int
}

func DefaultPolicy() Policy {
	return Policy{PlasticBottle: DefaultPlasticBottle, Can: DefaultCan}
}

// Validate rejects negative weights.
func (p Policy) Validate() error {
	if p.PlasticBottle < 0 || p.Can < 0 {
		return fmt.Errorf("point weights must be non-negative (plastic_bottle=%d, can=%d)", p.PlasticBottle, p.Can)
	}
	return nil
}

// Points returns the point value of a single influx record.
func (p Policy) Points(in model.Influx) int {
	return p.PlasticBottle*in.Count(model.CategoryPlasticBottle) + p.Can*in.Count(model.CategoryCan)
}

// Stats sums the counts of every influx record and prices the totals.
func (p Policy) Stats(influxes []model.Influx) model.WasteStats {
	var stats model.WasteStats
	for _, in := range influxes {
		stats.Can += in.Count(model.CategoryCan)
		stats.PlasticBottle += in.Count(model.CategoryPlasticBottle)
	}
	stats.TotalPoints = p.PlasticBottle*stats.PlasticBottle + p.Can*stats.Can
	return stats
}
