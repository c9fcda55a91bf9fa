package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// TankUpdate is a level change to apply at commit.
type TankUpdate struct {
	TankID    uint
	Level     decimal.Decimal
	Occupancy decimal.Decimal
}

// HeightToVolume converts a fluid height into gallons using the tank's
// calibration table. Between points the volume is interpolated linearly;
// below the first point it is interpolated from an empty tank. Without a
// table the tank is treated as linear up to MaxHeight. Heights beyond the
// table or MaxHeight are clamped and reported through clamped.
func HeightToVolume(tank *models.Tank, height decimal.Decimal) (volume decimal.Decimal, clamped bool, err error) {
	if len(tank.Calibration) == 0 {
		if !tank.MaxHeight.IsPositive() {
			return decimal.Zero, false, fmt.Errorf("tank %d has neither a calibration table nor a max height", tank.ID)
		}
		if height.GreaterThan(tank.MaxHeight) {
			height, clamped = tank.MaxHeight, true
		}
		return units.Round2(tank.Capacity.Mul(height).Div(tank.MaxHeight)), clamped, nil
	}

	points := append([]models.CalibrationPoint(nil), tank.Calibration...)
	sort.Slice(points, func(i, j int) bool { return points[i].Height.LessThan(points[j].Height) })

	prev := models.CalibrationPoint{Height: decimal.Zero, Volume: decimal.Zero}
	for _, p := range points {
		if height.LessThanOrEqual(p.Height) {
			return units.Round2(interpolate(prev, p, height)), false, nil
		}
		prev = p
	}
	last := points[len(points)-1]
	return units.Round2(last.Volume), true, nil
}

func interpolate(a, b models.CalibrationPoint, h decimal.Decimal) decimal.Decimal {
	span := b.Height.Sub(a.Height)
	if span.IsZero() {
		return b.Volume
	}
	return a.Volume.Add(b.Volume.Sub(a.Volume).Mul(h.Sub(a.Height)).Div(span))
}

// ApplyHeightReading computes the level and occupancy a reading gives the
// tank. Gauge anomalies become warnings and the values are clamped.
func ApplyHeightReading(tank *models.Tank, height decimal.Decimal) (models.TankLevel, []models.Issue, error) {
	ref := fmt.Sprintf("tank:%d", tank.ID)
	level := models.TankLevel{
		TankID:    tank.ID,
		ProductID: tank.ProductID,
		Height:    height,
		Capacity:  tank.Capacity,
	}
	var issues []models.Issue

	volume, clamped, err := HeightToVolume(tank, height)
	if err != nil {
		return level, nil, err
	}
	if clamped {
		msg := fmt.Sprintf("height %s is above the calibrated maximum", height.StringFixed(2))
		level.Warnings = append(level.Warnings, msg)
		issues = append(issues, models.NewWarning(models.IssueTankHeightAboveMax, ref, "%s", msg))
	}
	if tank.Capacity.IsPositive() && volume.GreaterThan(tank.Capacity) {
		msg := fmt.Sprintf("volume %s exceeds capacity %s", volume.StringFixed(2), tank.Capacity.StringFixed(2))
		level.Warnings = append(level.Warnings, msg)
		issues = append(issues, models.NewWarning(models.IssueTankOverCapacity, ref, "%s", msg))
		volume = tank.Capacity
	}
	if tank.MinLevel.IsPositive() && volume.LessThan(tank.MinLevel) {
		msg := fmt.Sprintf("volume %s is below the tank minimum %s", volume.StringFixed(2), tank.MinLevel.StringFixed(2))
		level.Warnings = append(level.Warnings, msg)
		issues = append(issues, models.NewWarning(models.IssueTankBelowMinimum, ref, "%s", msg))
	}

	level.Volume = volume
	level.Occupancy = units.Percentage(volume, tank.Capacity)
	return level, issues, nil
}

// ProcessTankReadings checks every reading against the location and builds
// the tank summary plus the level updates to commit. Rejected readings are
// reported as errors and skipped.
func ProcessTankReadings(ctx context.Context, tanks store.Tanks, locationID uint, readings []models.TankReading) (models.TankSummary, []TankUpdate, []models.Issue, error) {
	summary := models.TankSummary{Tanks: []models.TankLevel{}}
	var updates []TankUpdate
	var issues []models.Issue

	for i, r := range readings {
		ref := fmt.Sprintf("tank_readings[%d]", i)

		tank, err := tanks.FindTank(ctx, r.TankID)
		if errors.Is(err, store.ErrNotFound) {
			issues = append(issues, models.NewError(models.IssueUnknownTank, ref, "tank %d does not exist", r.TankID))
			continue
		}
		if err != nil {
			return summary, nil, nil, fmt.Errorf("looking up tank %d: %w", r.TankID, err)
		}
		if tank.LocationID != locationID {
			issues = append(issues, models.NewError(models.IssueTankLocationMismatch, ref,
				"tank %d belongs to location %d, not %d", tank.ID, tank.LocationID, locationID))
			continue
		}

		level, warnings, err := ApplyHeightReading(tank, r.Height)
		if err != nil {
			issues = append(issues, models.NewError(models.IssueTankNotCalibrated, ref, "%v", err))
			continue
		}
		issues = append(issues, warnings...)

		summary.Tanks = append(summary.Tanks, level)
		summary.TotalVolume = summary.TotalVolume.Add(level.Volume)
		summary.TotalCapacity = summary.TotalCapacity.Add(level.Capacity)
		updates = append(updates, TankUpdate{TankID: tank.ID, Level: level.Volume, Occupancy: level.Occupancy})
	}

	summary.Occupancy = units.Percentage(summary.TotalVolume, summary.TotalCapacity)
	return summary, updates, issues, nil
}
