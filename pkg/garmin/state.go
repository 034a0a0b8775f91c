// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package garmin

import (
	"github.com/halocline-dive/halocline/pkg/divecom"
)

const maxSensors = 6

// Pending-record flags. Each flag marks one multi-field aggregate that
// must be normalized and cleared at the end of the physical record that
// produced it.
const (
	pendingGasmix = 1 << iota
	pendingDeco
	pendingEvent
	pendingDeviceInfo
	pendingDecoModel
	pendingSensorProfile
	pendingTankUpdate
	pendingSetpointChange
)

// sensorProfile is one paired tank pressure sensor. The first unused
// table slot (the last slot once the table is full) doubles as scratch
// space while the profile's fields stream in.
type sensorProfile struct {
	sensorID   uint32
	name       string
	enabled    bool
	sensorType uint
}

// gpsPoint is one latitude/longitude pair in FIT semicircle units.
type gpsPoint struct {
	lat, lon int32
	valid    bool
}

// diveState is the per-dive decoder state created fresh by SetData and
// shared by both traversal passes.
type diveState struct {
	startTime   uint32
	prevTime    uint32
	lastEmitted uint32
	haveEmitted bool

	utcOffset   int32
	timeOffset  int32
	haveUTCOff  bool
	haveTimeOff bool

	firmware uint
	serial   uint
	product  uint
	subSport uint

	setpointLowCbar   uint
	setpointLowDepth  uint
	setpointHighCbar  uint
	setpointHighDepth uint

	salinity divecom.Salinity

	sensors  [maxSensors]sensorProfile
	nSensors int

	sessionEntry gpsPoint
	sessionExit  gpsPoint
	sessionNE    gpsPoint
	sessionSW    gpsPoint
	lapEntry     gpsPoint
	lapExit      gpsPoint
	record       gpsPoint

	haveAtmospheric bool
}

// sensorIndex maps an ANT sensor id to its tank index, or -1 when the
// sensor was never profiled.
func (s *diveState) sensorIndex(id uint32) int {
	for i := 0; i < s.nSensors; i++ {
		if s.sensors[i].sensorID == id {
			return i
		}
	}
	return -1
}

// scratchSensor returns the slot the next SENSOR_PROFILE record fills.
func (s *diveState) scratchSensor() *sensorProfile {
	i := s.nSensors
	if i >= maxSensors {
		i = maxSensors - 1
	}
	return &s.sensors[i]
}

// pendingRecord accumulates the fields of the data record currently
// being decoded. The flags bitset is drained by flushPending at every
// record boundary.
type pendingRecord struct {
	flags uint

	messageIndex int
	partIndex    int

	gasmix    divecom.GasMix
	gasStatus uint

	decoDepth float64
	decoTime  uint

	eventNr   uint
	eventType uint
	eventData uint

	devIndex    uint
	devSerial   uint
	devProduct  uint
	devFirmware uint

	gfLow  uint
	gfHigh uint

	tankSensor   uint32
	tankPressure uint

	setpointCbar uint
}

func (p *pendingRecord) set(flag uint) {
	p.flags |= flag
}

// flushPending normalizes every aggregate the just-finished record
// produced, then resets the scratch area.
func (d *fitDecoder) flushPending() {
	p := &d.pending
	if p.flags&pendingGasmix != 0 && p.gasStatus > 0 {
		d.cache.SetGasMix(p.messageIndex, p.gasmix)
	}
	if p.flags&pendingDeco != 0 {
		d.emit(divecom.DecoSample{
			Kind:    divecom.DecoStop,
			Seconds: p.decoTime,
			Meters:  p.decoDepth,
		})
	}
	if p.flags&pendingEvent != 0 {
		d.flushEvent(p.eventNr, p.eventType, p.eventData)
	}
	if p.flags&pendingDeviceInfo != 0 && p.devIndex == 0 {
		d.state.firmware = p.devFirmware
		d.state.serial = p.devSerial
		d.state.product = p.devProduct
	}
	if p.flags&pendingDecoModel != 0 {
		d.cache.AddStringf("Deco model", "Buhlmann ZHL-16C %d/%d", p.gfLow, p.gfHigh)
	}
	if p.flags&pendingSensorProfile != 0 {
		if d.state.scratchSensor().sensorType == 28 && d.state.nSensors < maxSensors {
			d.state.nSensors++
		}
	}
	if p.flags&pendingTankUpdate != 0 {
		if idx := d.state.sensorIndex(p.tankSensor); idx >= 0 {
			d.emit(divecom.PressureSample{
				Tank: idx,
				Bar:  float64(p.tankPressure) / 100.0,
			})
		}
	}
	if p.flags&pendingSetpointChange != 0 {
		d.emit(divecom.SetpointSample{Bar: float64(p.setpointCbar) / 100.0})
	}
	*p = pendingRecord{}
}

// finishDive runs after the record loop: it folds the accumulated
// per-dive state into summary strings.
func (d *fitDecoder) finishDive() {
	s := d.state
	if s.firmware != 0 {
		d.cache.AddStringf("Firmware", "%d.%02d", s.firmware/100, s.firmware%100)
	}
	if s.serial != 0 {
		d.cache.AddStringf("Serial", "%d", s.serial)
	}
	if s.product != 0 {
		d.cache.AddStringf("Product", "%d", s.product)
	}
	for _, pt := range []struct {
		name string
		p    gpsPoint
	}{
		{"GPS1", s.sessionEntry},
		{"GPS2", s.sessionExit},
	} {
		if pt.p.valid {
			d.cache.AddStringf(pt.name, "%.6f, %.6f",
				semicircleToDegrees(pt.p.lat), semicircleToDegrees(pt.p.lon))
		}
	}
}

// semicircleToDegrees converts a FIT 32-bit semicircle angle to degrees.
func semicircleToDegrees(v int32) float64 {
	return float64(v) * (180.0 / 2147483648.0)
}
