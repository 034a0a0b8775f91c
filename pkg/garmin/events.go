// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package garmin

import (
	"fmt"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// eventInfo names one FIT event code and assigns its severity.
type eventInfo struct {
	name     string
	severity divecom.Severity
}

// eventTable covers the fixed event codes 0 through 32. Codes with an
// empty name are known gaps in the enum and produce no event.
var eventTable = [33]eventInfo{
	0:  {"Timer", divecom.SeverityInfo},
	3:  {"Workout", divecom.SeverityInfo},
	4:  {"Workout step", divecom.SeverityInfo},
	5:  {"Power down", divecom.SeverityInfo},
	6:  {"Power up", divecom.SeverityInfo},
	7:  {"Off course", divecom.SeverityWarning},
	8:  {"Session", divecom.SeverityInfo},
	9:  {"Lap", divecom.SeverityInfo},
	10: {"Course point", divecom.SeverityInfo},
	11: {"Battery", divecom.SeverityWarning},
	12: {"Virtual partner pace", divecom.SeverityInfo},
	13: {"Heart rate high alert", divecom.SeverityWarning},
	14: {"Heart rate low alert", divecom.SeverityWarning},
	15: {"Speed high alert", divecom.SeverityWarning},
	16: {"Speed low alert", divecom.SeverityWarning},
	17: {"Cadence high alert", divecom.SeverityWarning},
	18: {"Cadence low alert", divecom.SeverityWarning},
	19: {"Power high alert", divecom.SeverityWarning},
	20: {"Power low alert", divecom.SeverityWarning},
	21: {"Recovery heart rate", divecom.SeverityInfo},
	22: {"Battery low", divecom.SeverityWarning},
	23: {"Time duration alert", divecom.SeverityWarning},
	24: {"Setpoint low switch", divecom.SeverityInfo},
	25: {"Setpoint high switch", divecom.SeverityInfo},
	26: {"Activity", divecom.SeverityInfo},
	27: {"Fitness equipment", divecom.SeverityInfo},
	28: {"Length", divecom.SeverityInfo},
	32: {"User marker", divecom.SeverityInfo},
}

// Event codes with dive-specific handling; 24 and 25 also have entries
// in the fixed table.
const (
	evSetpointLowSwitch    = 24
	evSetpointHighSwitch   = 25
	evGasSwitch            = 57
	evTankPressureReserve  = 71
	evTankPressureCritical = 72
	evTankLost             = 73
)

// flushEvent normalizes one aggregated EVENT record into samples.
func (d *fitDecoder) flushEvent(nr, typ, data uint) {
	switch nr {
	case evGasSwitch:
		d.emit(divecom.GasMixSample{Index: int(data)})
		return
	case evTankPressureReserve:
		d.emitTankEvent(nr, "Tank pressure reserve", divecom.SeverityWarning, data)
		return
	case evTankPressureCritical:
		d.emitTankEvent(nr, "Tank pressure critical", divecom.SeverityAlarm, data)
		return
	case evTankLost:
		d.emitTankEvent(nr, "Tank sensor lost", divecom.SeverityWarning, data)
		return
	}

	if nr >= uint(len(eventTable)) || eventTable[nr].name == "" {
		d.emit(divecom.EventSample{
			Kind:     nr,
			Name:     fmt.Sprintf("Event %d", nr),
			Severity: divecom.SeverityInfo,
		})
		return
	}

	info := eventTable[nr]
	d.emit(divecom.EventSample{Kind: nr, Name: info.name, Severity: info.severity})

	// The setpoint switch alerts double as setpoint changes: the new
	// setpoint comes from the dive settings, not the event payload.
	switch nr {
	case evSetpointLowSwitch:
		if d.state.setpointLowCbar != 0 {
			d.emit(divecom.SetpointSample{Bar: float64(d.state.setpointLowCbar) / 100.0})
		}
	case evSetpointHighSwitch:
		if d.state.setpointHighCbar != 0 {
			d.emit(divecom.SetpointSample{Bar: float64(d.state.setpointHighCbar) / 100.0})
		}
	}
}

// emitTankEvent delivers a tank alert naming the affected tank when the
// sensor id is known.
func (d *fitDecoder) emitTankEvent(nr uint, name string, sev divecom.Severity, sensor uint) {
	if idx := d.state.sensorIndex(uint32(sensor)); idx >= 0 {
		name = fmt.Sprintf("%s (tank %d)", name, idx+1)
	}
	d.emit(divecom.EventSample{Kind: nr, Name: name, Severity: sev})
}
