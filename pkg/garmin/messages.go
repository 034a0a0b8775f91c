// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package garmin

import (
	"fmt"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Field numbers with a fixed meaning in every message.
const (
	fieldAnyPartIndex    = 250
	fieldAnyTimestamp    = 253
	fieldAnyMessageIndex = 254
)

// Global message numbers decoded by the core.
const (
	msgFile           = 0
	msgDeviceSettings = 2
	msgSport          = 12
	msgSession        = 18
	msgLap            = 19
	msgRecord         = 20
	msgEvent          = 21
	msgDeviceInfo     = 23
	msgSensorProfile  = 147
	msgDiveSettings   = 258
	msgDiveGas        = 259
	msgDiveSummary    = 268
	msgTankUpdate     = 319
	msgTankSummary    = 323
)

// fieldHandler applies one decoded field value to the decoder state.
type fieldHandler func(d *fitDecoder, v fitValue)

// messageDesc names one global message and maps its field numbers to
// handlers. Fields without a handler are recognized but ignored.
type messageDesc struct {
	name   string
	fields map[byte]fieldHandler
}

// messageLookup resolves a global message number, synthesizing a
// placeholder descriptor for numbers outside the known set.
func messageLookup(global uint16) *messageDesc {
	if desc, ok := messages[global]; ok {
		return desc
	}
	return &messageDesc{name: fmt.Sprintf("msg-%d", global)}
}

var messages = map[uint16]*messageDesc{
	msgFile: {name: "file", fields: map[byte]fieldHandler{
		0: nil, // file_type
		1: nil, // manufacturer
		2: nil, // product
		3: nil, // serial
		4: nil, // creation_time
		5: nil, // number
		7: nil, // other_time
	}},

	msgDeviceSettings: {name: "device_settings", fields: map[byte]fieldHandler{
		1: func(d *fitDecoder, v fitValue) {
			// Stored in hours.
			d.state.utcOffset = int32(v.uint64v()) * 3600
			d.state.haveUTCOff = true
		},
		2: func(d *fitDecoder, v fitValue) {
			d.state.timeOffset = int32(v.element(0).uint64v())
			d.state.haveTimeOff = true
		},
	}},

	msgSport: {name: "sport", fields: map[byte]fieldHandler{
		0: nil, // sport
		1: func(d *fitDecoder, v fitValue) {
			d.state.subSport = uint(v.uint64v())
			d.cache.SetDiveMode(diveModeFromSubSport(d.state.subSport))
		},
	}},

	msgSession: {name: "session", fields: map[byte]fieldHandler{
		2: func(d *fitDecoder, v fitValue) {
			if d.state.startTime == 0 {
				d.state.startTime = uint32(v.uint64v())
			}
		},
		3:  gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionEntry }, true),
		4:  gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionEntry }, false),
		29: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionNE }, true),
		30: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionNE }, false),
		31: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionSW }, true),
		32: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionSW }, false),
		38: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionExit }, true),
		39: gpsHandler(func(s *diveState) *gpsPoint { return &s.sessionExit }, false),
	}},

	msgLap: {name: "lap", fields: map[byte]fieldHandler{
		3: gpsHandler(func(s *diveState) *gpsPoint { return &s.lapEntry }, true),
		4: gpsHandler(func(s *diveState) *gpsPoint { return &s.lapEntry }, false),
		5: gpsHandler(func(s *diveState) *gpsPoint { return &s.lapExit }, true),
		6: gpsHandler(func(s *diveState) *gpsPoint { return &s.lapExit }, false),
	}},

	msgRecord: {name: "record", fields: map[byte]fieldHandler{
		0: gpsHandler(func(s *diveState) *gpsPoint { return &s.record }, true),
		1: gpsHandler(func(s *diveState) *gpsPoint { return &s.record }, false),
		2: nil, // altitude
		3: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.HeartbeatSample{BPM: uint(v.uint64v())})
		},
		5:  nil, // distance
		13: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.TemperatureSample{Celsius: float64(v.int64v())})
		},
		91: func(d *fitDecoder, v fitValue) {
			if !d.state.haveAtmospheric {
				d.state.haveAtmospheric = true
				d.cache.SetAtmospheric(float64(v.uint64v()) / 100000.0)
			}
		},
		92: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.DepthSample{Meters: float64(v.uint64v()) / 1000.0})
		},
		93: func(d *fitDecoder, v fitValue) {
			d.pending.decoDepth = float64(v.uint64v()) / 1000.0
			d.pending.set(pendingDeco)
		},
		94: func(d *fitDecoder, v fitValue) {
			d.pending.decoTime = uint(v.uint64v())
			d.pending.set(pendingDeco)
		},
		95: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.TTSSample{Seconds: uint(v.uint64v())})
		},
		96: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.DecoSample{Kind: divecom.DecoNDL, Seconds: uint(v.uint64v())})
		},
		97: func(d *fitDecoder, v fitValue) {
			d.emit(divecom.CNSSample{Fraction: float64(v.uint64v()) / 100.0})
		},
		98:  nil, // n2_load
		123: nil, // air_time_remaining
		124: nil, // pressure_sac
		125: nil, // volume_sac
		126: nil, // rmv
		127: nil, // ascent_rate
	}},

	msgEvent: {name: "event", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.pending.eventNr = uint(v.uint64v())
			d.pending.set(pendingEvent)
		},
		1: func(d *fitDecoder, v fitValue) {
			d.pending.eventType = uint(v.uint64v())
			d.pending.set(pendingEvent)
		},
		3: func(d *fitDecoder, v fitValue) {
			d.pending.eventData = uint(v.uint64v())
			d.pending.set(pendingEvent)
		},
		4: func(d *fitDecoder, v fitValue) {
			d.pending.set(pendingEvent)
		},
	}},

	msgDeviceInfo: {name: "device_info", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.pending.devIndex = uint(v.uint64v())
			d.pending.set(pendingDeviceInfo)
		},
		3: func(d *fitDecoder, v fitValue) {
			d.pending.devSerial = uint(v.uint64v())
			d.pending.set(pendingDeviceInfo)
		},
		4: func(d *fitDecoder, v fitValue) {
			d.pending.devProduct = uint(v.uint64v())
			d.pending.set(pendingDeviceInfo)
		},
		5: func(d *fitDecoder, v fitValue) {
			d.pending.devFirmware = uint(v.uint64v())
			d.pending.set(pendingDeviceInfo)
		},
	}},

	msgSensorProfile: {name: "sensor_profile", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.state.scratchSensor().sensorID = uint32(v.uint64v())
			d.pending.set(pendingSensorProfile)
		},
		1: func(d *fitDecoder, v fitValue) {
			d.state.scratchSensor().name = v.stringv()
			d.pending.set(pendingSensorProfile)
		},
		2: func(d *fitDecoder, v fitValue) {
			d.state.scratchSensor().enabled = v.uint64v() != 0
			d.pending.set(pendingSensorProfile)
		},
		3: func(d *fitDecoder, v fitValue) {
			d.state.scratchSensor().sensorType = uint(v.uint64v())
			d.pending.set(pendingSensorProfile)
		},
		4: nil, // pressure_units
		5: nil, // rated_pressure
		6: nil, // reserve_pressure
		7: nil, // volume
		8: nil, // used_for_gas_rate
	}},

	msgDiveSettings: {name: "dive_settings", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.cache.AddString("Name", v.stringv())
		},
		1: func(d *fitDecoder, v fitValue) {
			if v.uint64v() == 0 {
				d.pending.set(pendingDecoModel)
			}
		},
		2: func(d *fitDecoder, v fitValue) {
			d.pending.gfLow = uint(v.uint64v())
		},
		3: func(d *fitDecoder, v fitValue) {
			d.pending.gfHigh = uint(v.uint64v())
		},
		4: func(d *fitDecoder, v fitValue) {
			switch v.uint64v() {
			case 0:
				d.state.salinity = divecom.Salinity{Kind: divecom.WaterFresh, Density: 1000.0}
			case 1:
				d.state.salinity = divecom.Salinity{Kind: divecom.WaterSalt, Density: 1025.0}
			default:
				d.state.salinity = divecom.Salinity{Kind: divecom.WaterCustom}
			}
			d.cache.SetSalinity(d.state.salinity)
		},
		5: func(d *fitDecoder, v fitValue) {
			d.state.salinity.Density = v.float64v()
			d.cache.SetSalinity(d.state.salinity)
		},
		6: nil, // po2_warn
		7: nil, // po2_critical
		8: nil, // po2_deco
		23: func(d *fitDecoder, v fitValue) {
			d.state.setpointLowCbar = uint(v.uint64v())
		},
		24: func(d *fitDecoder, v fitValue) {
			d.state.setpointLowDepth = uint(v.uint64v())
		},
		26: func(d *fitDecoder, v fitValue) {
			d.state.setpointHighCbar = uint(v.uint64v())
		},
		27: func(d *fitDecoder, v fitValue) {
			d.state.setpointHighDepth = uint(v.uint64v())
		},
	}},

	msgDiveGas: {name: "dive_gas", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.pending.gasmix.Helium = float64(v.uint64v()) / 100.0
			d.pending.set(pendingGasmix)
		},
		1: func(d *fitDecoder, v fitValue) {
			d.pending.gasmix.Oxygen = float64(v.uint64v()) / 100.0
			d.pending.set(pendingGasmix)
		},
		2: func(d *fitDecoder, v fitValue) {
			d.pending.gasStatus = uint(v.uint64v())
			d.pending.set(pendingGasmix)
		},
	}},

	msgDiveSummary: {name: "dive_summary", fields: map[byte]fieldHandler{
		2: func(d *fitDecoder, v fitValue) {
			d.cache.SetAvgDepth(float64(v.uint64v()) / 1000.0)
		},
		3: func(d *fitDecoder, v fitValue) {
			d.cache.SetMaxDepth(float64(v.uint64v()) / 1000.0)
		},
		4: nil, // surface_interval
		5: nil, // start_cns
		6: nil, // end_cns
		7: nil, // start_n2
		8: nil, // end_n2
		9: nil, // o2_toxicity
		10: func(d *fitDecoder, v fitValue) {
			d.cache.AddStringf("Dive number", "%d", v.uint64v())
		},
		11: func(d *fitDecoder, v fitValue) {
			d.cache.SetDivetime(uint(v.uint64v() / 1000))
		},
		12: nil, // avg_pressure_sac
		13: nil, // avg_volume_sac
		14: nil, // avg_rmv
	}},

	msgTankUpdate: {name: "tank_update", fields: map[byte]fieldHandler{
		0: func(d *fitDecoder, v fitValue) {
			d.pending.tankSensor = uint32(v.uint64v())
			d.pending.set(pendingTankUpdate)
		},
		1: func(d *fitDecoder, v fitValue) {
			d.pending.tankPressure = uint(v.uint64v())
			d.pending.set(pendingTankUpdate)
		},
	}},

	msgTankSummary: {name: "tank_summary", fields: map[byte]fieldHandler{
		0: nil, // sensor
		1: nil, // start_pressure
		2: nil, // end_pressure
		3: nil, // volume_used
	}},
}

// gpsHandler builds a handler that stores one semicircle coordinate.
func gpsHandler(sel func(*diveState) *gpsPoint, isLat bool) fieldHandler {
	return func(d *fitDecoder, v fitValue) {
		p := sel(d.state)
		if isLat {
			p.lat = int32(v.int64v())
		} else {
			p.lon = int32(v.int64v())
		}
		p.valid = true
	}
}

// diveModeFromSubSport maps the FIT sub_sport enum onto the normalized
// dive mode set.
func diveModeFromSubSport(sub uint) divecom.DiveMode {
	switch sub {
	case 55:
		return divecom.ModeGauge
	case 56, 57:
		return divecom.ModeFreedive
	case 63:
		return divecom.ModeClosedCircuit
	default:
		return divecom.ModeOpenCircuit
	}
}
