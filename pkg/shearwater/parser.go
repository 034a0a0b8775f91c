// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

// Package shearwater decodes Shearwater Predator and Petrel dive
// logs. A dive is a sequence of 32 byte records: opening blocks, the
// samples, and closing blocks. Older firmware lays the opening and
// closing blocks out as fixed 128 byte regions at the ends of the
// dive; the newer PNF layout tags every record with a type byte and
// the blocks may appear anywhere.
package shearwater

import (
	"fmt"
	"time"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

// Supported models.
const (
	ModelPredator = 2
	ModelPetrel   = 3
)

const (
	recordSize = 0x20
	blockSize  = 0x80

	szSamplePredator = 0x10
	szSamplePetrel   = 0x20

	numBlockIDs = 0x28
	maxGasMixes = 10
)

// Sample status flags.
const (
	statusGasSwitch    = 0x01
	statusPPO2External = 0x02
	statusSetpointHigh = 0x04
	statusOpenCircuit  = 0x10
)

// Unit conversions.
const (
	feet = 0.3048
	psi  = 6894.757293168361
	bar  = 100000.0
)

type parser struct {
	model  uint
	serial uint32
	petrel bool

	data []byte
	pnf  bool
	// blockOffset maps a PNF record type to the offset of its last
	// occurrence; -1 when the block is absent.
	blockOffset [numBlockIDs]int
	logversion  int
	footerSize  int
	sampleSize  int

	imperial   bool
	mode       divecom.DiveMode
	oxygen     [maxGasMixes]byte
	helium     [maxGasMixes]byte
	ngasmixes  int
	calibrated byte
	calibrate  [3]float64

	cache divecom.FieldCache
}

// NewPredatorParser returns a parser for the Predator's 16 byte
// sample records.
func NewPredatorParser(serial uint32) divecom.Parser {
	return &parser{model: ModelPredator, serial: serial}
}

// NewPetrelParser returns a parser for the Petrel family (Petrel,
// Perdix, Teric and descendants), which shares the 32 byte sample
// layout.
func NewPetrelParser(serial uint32) divecom.Parser {
	return &parser{model: ModelPetrel, serial: serial, petrel: true}
}

// SetData binds one dive and decodes its summary.
func (p *parser) SetData(data []byte) error {
	p.data = nil
	p.cache.Reset()
	if err := p.decode(data); err != nil {
		p.data = nil
		return err
	}
	return nil
}

// DateTime reads the dive start from the opening block's 32-bit unix
// timestamp.
func (p *parser) DateTime() (time.Time, error) {
	if p.data == nil {
		return time.Time{}, divecom.ErrUnsupported
	}
	return time.Unix(int64(divecom.U32BE(p.data[12:])), 0).UTC(), nil
}

// Field retrieves a cached summary value.
func (p *parser) Field(t divecom.FieldType, idx int) (interface{}, error) {
	if p.data == nil {
		return nil, divecom.ErrUnsupported
	}
	return p.cache.Field(t, idx)
}

// batteryState converts a raw tank-transmitter reading into a state
// bit: bit 0 normal, bit 1 critical, bit 2 warning. Readings with the
// upper bits all set mean no transmitter is paired.
func batteryState(raw uint16) byte {
	if raw&0xFFF0 == 0xFFF0 {
		return 0
	}
	state := raw >> 12
	if state > 2 {
		return 0
	}
	return 1 << state
}

var batteryNames = [8]string{
	"", "normal", "critical", "critical", "warning", "warning", "critical", "critical",
}

func (p *parser) addBatteryInfo(desc string, state byte) {
	if state == 0 || int(state) >= len(batteryNames) {
		return
	}
	p.cache.AddString(desc, batteryNames[state])
}

// decode validates the layout and fills the summary cache. The raw
// gas list, calibration factors and layout geometry stay on the
// parser for the sample pass.
func (p *parser) decode(data []byte) error {
	if len(data) < 2*blockSize {
		return fmt.Errorf("%w: dive shorter than its opening and closing blocks", divecom.ErrDataFormat)
	}

	p.pnf = data[0] == 0x10
	if p.pnf && !p.petrel {
		return fmt.Errorf("%w: tagged records on a Predator dive", divecom.ErrDataFormat)
	}
	p.sampleSize = szSamplePredator
	if p.petrel {
		p.sampleSize = szSamplePetrel
	}

	for i := range p.blockOffset {
		p.blockOffset[i] = -1
	}
	if p.pnf {
		for off := 0; off+recordSize <= len(data); off += recordSize {
			t := data[off]
			if (t >= 0x10 && t <= 0x17) || (t >= 0x20 && t <= 0x27) {
				p.blockOffset[t] = off
			}
		}
		for _, t := range []byte{0x10, 0x12, 0x13, 0x14, 0x15, 0x20} {
			if p.blockOffset[t] < 0 {
				return fmt.Errorf("%w: missing record type %#02x", divecom.ErrDataFormat, t)
			}
		}
	}

	p.logversion = 6
	if p.pnf {
		p.logversion = int(data[p.blockOffset[0x14]+16])
	} else if data[127] > 6 {
		p.logversion = int(data[127])
	}

	p.footerSize = blockSize
	if p.petrel || divecom.U16BE(data[len(data)-p.footerSize:]) == 0xFFFD {
		p.footerSize += blockSize
		if len(data) < blockSize+p.footerSize {
			return fmt.Errorf("%w: dive shorter than its closing blocks", divecom.ErrDataFormat)
		}
	}

	// Freedives use a different sample layout and are not handled
	// here.
	if p.pnf && p.logversion > 9 && data[p.blockOffset[0x15]+25] == 0x02 {
		return fmt.Errorf("%w: freedive log", divecom.ErrDataFormat)
	}

	p.imperial = data[8] == 1

	if err := p.scanSamples(data); err != nil {
		return err
	}
	p.decodeCalibration(data)

	p.cache.AddStringf("Serial", "%08x", p.serial)
	p.cache.AddStringf("FW Version", "%2x", data[19])
	if p.pnf {
		p.cache.AddStringf("Logversion", "%d(PNF)", p.logversion)
	} else {
		p.cache.AddStringf("Logversion", "%d", p.logversion)
	}
	p.decodeDecoModel(data)
	p.decodeBattery(data)

	p.decodeFields(data)
	p.data = data
	return nil
}

// scanSamples walks the sample records once to collect the gas list,
// the dive mode and the transmitter battery states.
func (p *parser) scanSamples(data []byte) error {
	offset, length := p.sampleRange(data)
	p.mode = divecom.ModeOpenCircuit
	p.ngasmixes = 0
	var t1state, t2state byte

	pnfShift := 0
	if p.pnf {
		pnfShift = 1
	}
	for offset+p.sampleSize <= length {
		if p.pnf && data[offset] != 0x01 {
			offset += recordSize
			continue
		}
		if allZero(data[offset : offset+p.sampleSize]) {
			offset += p.sampleSize
			continue
		}
		status := data[offset+11+pnfShift]
		if status&statusOpenCircuit == 0 {
			p.mode = divecom.ModeClosedCircuit
		}
		o2 := data[offset+7+pnfShift]
		he := data[offset+8+pnfShift]
		if _, err := p.gasIndex(o2, he, true); err != nil {
			return err
		}
		if p.logversion >= 7 {
			t1state |= batteryState(divecom.U16BE(data[offset+27+pnfShift:]))
			t2state |= batteryState(divecom.U16BE(data[offset+19+pnfShift:]))
		}
		offset += p.sampleSize
	}

	p.addBatteryInfo("T1 battery", t1state)
	p.addBatteryInfo("T2 battery", t2state)
	return nil
}

// gasIndex finds o2/he in the gas list, appending it when add is set.
func (p *parser) gasIndex(o2, he byte, add bool) (int, error) {
	for i := 0; i < p.ngasmixes; i++ {
		if p.oxygen[i] == o2 && p.helium[i] == he {
			return i, nil
		}
	}
	if !add {
		return 0, fmt.Errorf("%w: gas switch to an unannounced mix %d/%d", divecom.ErrDataFormat, o2, he)
	}
	if p.ngasmixes >= maxGasMixes {
		return 0, fmt.Errorf("%w: more than %d gas mixes", divecom.ErrDataFormat, maxGasMixes)
	}
	p.oxygen[p.ngasmixes] = o2
	p.helium[p.ngasmixes] = he
	p.ngasmixes++
	return p.ngasmixes - 1, nil
}

// sampleRange returns the byte range holding sample records. PNF
// dives interleave samples with tagged blocks over the whole dive.
func (p *parser) sampleRange(data []byte) (offset, length int) {
	if p.pnf {
		return 0, len(data)
	}
	return blockSize, len(data) - p.footerSize
}

// decodeCalibration reads the PPO2 sensor calibration block. When
// every enabled sensor still carries the factory default the readings
// are voted and the per-sensor values are not exposed.
func (p *parser) decodeCalibration(data []byte) {
	base := 87
	if p.pnf {
		base = p.blockOffset[0x13] + 7
	}
	for i := 0; i < 3; i++ {
		value := divecom.U16BE(data[base+2*i:])
		p.calibrate[i] = float64(value) / 100000.0
		// The Predator's calibration values are scaled by 2.2.
		if p.model == ModelPredator {
			p.calibrate[i] *= 2.2
		}
	}
	mask := data[base-1]
	nsensors, ndefaults := 0, 0
	for i := 0; i < 3; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		nsensors++
		if divecom.U16BE(data[base+2*i:]) == 2100 {
			ndefaults++
		}
	}
	if nsensors > 0 && nsensors == ndefaults {
		p.calibrated = 0
		if p.mode != divecom.ModeOpenCircuit {
			p.cache.AddString("PPO2 source", "voted/averaged")
		}
	} else {
		p.calibrated = mask
		if p.mode != divecom.ModeOpenCircuit {
			p.cache.AddString("PPO2 source", "cells")
		}
	}
}

func (p *parser) decodeDecoModel(data []byte) {
	idx := 67
	if p.pnf {
		idx = p.blockOffset[0x12] + 18
	}
	gfsIdx := 85
	if p.pnf {
		gfsIdx = p.blockOffset[0x13] + 5
	}
	switch data[idx] {
	case 0:
		p.cache.AddStringf("Deco model", "GF %d/%d", data[4], data[5])
	case 1:
		p.cache.AddStringf("Deco model", "VPM-B +%d", data[idx+1])
	case 2:
		p.cache.AddStringf("Deco model", "VPM-B/GFS +%d %d%%", data[idx+1], data[gfsIdx])
	default:
		p.cache.AddStringf("Deco model", "Unknown model %d", data[idx])
	}
}

func (p *parser) decodeBattery(data []byte) {
	if p.logversion >= 7 {
		idx := 120
		if p.pnf {
			idx = p.blockOffset[0x14] + 9
		}
		switch data[idx] {
		case 1:
			p.cache.AddString("Battery type", "1.5V Alkaline")
		case 2:
			p.cache.AddString("Battery type", "1.5V Lithium")
		case 3:
			p.cache.AddString("Battery type", "1.2V NiMH")
		case 4:
			p.cache.AddString("Battery type", "3.6V Saft")
		case 5:
			p.cache.AddString("Battery type", "3.7V Li-Ion")
		default:
			p.cache.AddStringf("Battery type", "unknown type %d", data[idx])
		}
	}
	p.cache.AddStringf("Battery at end", "%.1f V", float64(data[9])/10.0)
}

// decodeFields fills the scalar summary fields from the closing
// block.
func (p *parser) decodeFields(data []byte) {
	blockStart := len(data) - p.footerSize
	if p.pnf {
		blockStart = p.blockOffset[0x20]
	}

	p.cache.SetDivetime(uint(divecom.U16BE(data[blockStart+6:])) * 60)

	maxdepth := float64(divecom.U16BE(data[blockStart+4:]))
	if p.imperial {
		maxdepth *= feet
	}
	if p.pnf {
		maxdepth /= 10.0
	}
	p.cache.SetMaxDepth(maxdepth)

	for i := 0; i < p.ngasmixes; i++ {
		p.cache.SetGasMix(i, divecom.GasMix{
			Oxygen: float64(p.oxygen[i]) / 100,
			Helium: float64(p.helium[i]) / 100,
		})
	}
	p.cache.SetGasMixCount(p.ngasmixes)

	salIdx := 83
	if p.pnf {
		salIdx = p.blockOffset[0x13] + 3
	}
	density := float64(divecom.U16BE(data[salIdx:]))
	kind := divecom.WaterSalt
	if density == 1000 {
		kind = divecom.WaterFresh
	}
	p.cache.SetSalinity(divecom.Salinity{Kind: kind, Density: density})

	atmIdx := 47
	if p.pnf {
		atmIdx = p.blockOffset[0x11] + 16
	}
	if !p.pnf || p.blockOffset[0x11] >= 0 {
		p.cache.SetAtmospheric(float64(divecom.U16BE(data[atmIdx:])) / 1000.0)
	}

	p.cache.SetDiveMode(p.mode)
}

// SamplesForeach replays the dive's sample records in time order.
func (p *parser) SamplesForeach(cb divecom.SampleCallback) error {
	if p.data == nil {
		return divecom.ErrUnsupported
	}
	data := p.data
	offset, length := p.sampleRange(data)

	pnfShift := 0
	if p.pnf {
		pnfShift = 1
	}

	interval := uint(10)
	if p.pnf && p.logversion >= 9 {
		interval = uint(divecom.U16BE(data[p.blockOffset[0x15]+23:])) / 1000
	}

	t := uint(0)
	o2 := p.oxygen[0]
	he := p.helium[0]
	first := true

	for offset+p.sampleSize <= length {
		if p.pnf && data[offset] == 0xFF && data[offset+1] == 0xFD {
			break
		}
		if p.pnf && data[offset] != 0x01 {
			offset += recordSize
			continue
		}
		if allZero(data[offset : offset+p.sampleSize]) {
			offset += p.sampleSize
			continue
		}
		s := data[offset:]

		t += interval
		cb(divecom.TimeSample{Seconds: t})

		depth := float64(divecom.U16BE(s[pnfShift:]))
		if p.imperial {
			depth *= feet
		}
		depth /= 10.0
		cb(divecom.DepthSample{Meters: depth})

		temperature := float64(int8(s[pnfShift+13]))
		if temperature < 0 {
			// Negative readings are offset by 102 on the wire.
			temperature += 102
			if temperature > 0 {
				temperature = 0
			}
		}
		if p.imperial {
			temperature = (temperature - 32) * (5.0 / 9.0)
		}
		cb(divecom.TemperatureSample{Celsius: temperature})

		status := s[pnfShift+11]
		if status&statusOpenCircuit == 0 {
			if status&statusPPO2External == 0 {
				if p.calibrated == 0 {
					cb(divecom.PPO2Sample{Bar: float64(s[pnfShift+6]) / 100})
				} else {
					if p.calibrated&0x01 != 0 {
						cb(divecom.PPO2Sample{Bar: float64(s[pnfShift+12]) * p.calibrate[0]})
					}
					if p.calibrated&0x02 != 0 {
						cb(divecom.PPO2Sample{Bar: float64(s[pnfShift+14]) * p.calibrate[1]})
					}
					if p.calibrated&0x04 != 0 {
						cb(divecom.PPO2Sample{Bar: float64(s[pnfShift+15]) * p.calibrate[2]})
					}
				}
			}
			// The Predator logs only which of the two configured
			// setpoints is active; the values live in the opening
			// block.
			var setpoint byte
			if p.petrel {
				setpoint = s[pnfShift+18]
			} else if status&statusSetpointHigh != 0 {
				setpoint = data[18]
			} else {
				setpoint = data[17]
			}
			cb(divecom.SetpointSample{Bar: float64(setpoint) / 100})
		}

		if p.petrel {
			cb(divecom.CNSSample{Fraction: float64(s[pnfShift+22]) / 100})
		}

		sampleO2 := s[pnfShift+7]
		sampleHe := s[pnfShift+8]
		if first || sampleO2 != o2 || sampleHe != he {
			idx, err := p.gasIndex(sampleO2, sampleHe, false)
			if err != nil {
				return err
			}
			cb(divecom.GasMixSample{Index: idx})
			o2, he = sampleO2, sampleHe
			first = false
		}

		decostop := divecom.U16BE(s[pnfShift+2:])
		deco := divecom.DecoSample{Seconds: uint(s[pnfShift+9]) * 60}
		if decostop != 0 {
			deco.Kind = divecom.DecoStop
			deco.Meters = float64(decostop)
			if p.imperial {
				deco.Meters *= feet
			}
		} else {
			deco.Kind = divecom.DecoNDL
		}
		cb(deco)

		if p.logversion >= 7 {
			if pressure := divecom.U16BE(s[pnfShift+27:]); pressure < 0xFFF0 {
				cb(divecom.PressureSample{Tank: 0, Bar: float64(pressure&0x0FFF) * 2 * psi / bar})
			}
			if pressure := divecom.U16BE(s[pnfShift+19:]); pressure < 0xFFF0 {
				cb(divecom.PressureSample{Tank: 1, Bar: float64(pressure&0x0FFF) * 2 * psi / bar})
			}
			if rbt := s[pnfShift+21]; rbt < 0xF0 {
				cb(divecom.RBTSample{Minutes: uint(rbt)})
			}
		}

		offset += p.sampleSize
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
