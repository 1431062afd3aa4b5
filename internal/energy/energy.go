// Package energy polls the house energy telemetry (solar, grid, battery
// and EV charger) from the Node-RED bridge.
package energy

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// Path is the Node-RED endpoint serving the telemetry tree.
const Path = "/evdata"

// leaf is one telemetry node. Values are numbers or strings.
type leaf struct {
	Value json.RawMessage `json:"value"`
}

type tree map[string]map[string]leaf

func (t tree) raw(group, key string) json.RawMessage {
	g, ok := t[group]
	if !ok {
		return nil
	}
	return g[key].Value
}

// num reads a numeric leaf. Numeric strings are parsed; anything else is 0.
func (t tree) num(group, key string) float64 {
	raw := t.raw(group, key)
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// str reads a text leaf, falling back to def when missing or empty.
func (t tree) str(group, key, def string) string {
	raw := t.raw(group, key)
	if len(raw) == 0 {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return def
		}
		return s
	}
	return string(raw)
}

// snapshot maps the telemetry tree onto the widget fields.
func (t tree) snapshot(now time.Time) *models.EnergySnapshot {
	snap := &models.EnergySnapshot{
		HouseLoad:          t.num("grid", "ac_power"),
		EVPower:            t.num("ev", "current_power"),
		EVChargedToday:     t.num("ev", "charged_today"),
		EVChargedMonth:     t.num("ev", "charged_month"),
		EVTotalCounter:     t.num("ev", "total_counter"),
		EVStatus:           t.str("ev", "status", "Idle"),
		SolarTotal:         t.num("solar", "total_power"),
		SolarAC:            t.num("solar", "ac_pv_power"),
		SolarDC:            t.num("solar", "dc_pv_power"),
		SolarDCDay:         t.num("solar", "dc_pv_total"),
		SolarACDay:         t.num("solar", "ac_pv_totalday"),
		SolarTotalDay:      t.num("solar", "total_powerday"),
		GridTotal:          t.num("grid", "total_power"),
		GridSetpoint:       t.num("grid", "setpoint"),
		DCPower:            t.num("grid", "dc_power"),
		SOC:                t.num("battery", "soc"),
		BatteryStatus:      t.str("battery", "status", "Idle"),
		BatteryPower:       t.num("battery", "power"),
		ForecastPrediction: t.num("forecast", "prediction"),
		ForecastSummary:    t.str("forecast", "summary", "Loading..."),
		Timestamp:          now,
	}
	snap.BatteryCharging = isCharging(snap.BatteryStatus)
	return snap
}

func isCharging(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "charg") && !strings.Contains(s, "discharg")
}
