package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// goodQuality is the OPC quality code the gateway sends for a healthy tag.
const goodQuality = 128

// timeLayout matches what the gateway puts in the time field.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// span is the range a simulated channel wanders in.
type span struct{ lo, hi float64 }

// Nominal operating ranges for a 25-cell alkaline stack.
var spans = map[telemetry.Field]span{
	telemetry.FieldTotalCurrent:           {4800, 5200},
	telemetry.FieldPumpPressure:           {0.30, 0.45},
	telemetry.FieldPumpOpening:            {40, 70},
	telemetry.FieldFanOpening:             {20, 60},
	telemetry.FieldSpecificGravity:        {1.25, 1.30},
	telemetry.FieldInletPressure:          {1.45, 1.60},
	telemetry.FieldLiquidLevel:            {45, 55},
	telemetry.FieldOxygenOutletPressure:   {1.50, 1.60},
	telemetry.FieldHydrogenOutletPressure: {1.50, 1.60},
	telemetry.FieldOxygenOutletTemp:       {80, 90},
	telemetry.FieldAlkaliInletTemp:        {60, 70},
	telemetry.FieldHydrogenOutletTemp:     {80, 90},
	telemetry.FieldHydrogenGasTemp:        {35, 45},
	telemetry.FieldHydrogenFlowMeter:      {900, 1100},
	telemetry.FieldOxygenInHydrogen:       {0.05, 0.30},
	telemetry.FieldHydrogenInOxygen:       {0.20, 0.80},
	telemetry.FieldCurrentPower:           {4.3, 4.8},
	telemetry.FieldPressureDiff:           {-2, 2},
	telemetry.FieldSepPressureDiff:        {-2, 2},
}

// cellSpan is the per-cell voltage range.
var cellSpan = span{1.80, 2.10}

// message is one tag publication.
type message struct {
	Topic   string
	Payload []byte
}

// wirePayload is the gateway's JSON shape.
type wirePayload struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	QualityCode int    `json:"qualityCode"`
	Time        string `json:"time"`
}

// generator produces a full set of tag readings per device per round.
// Not safe for concurrent use.
type generator struct {
	catalog *telemetry.Catalog
	devices int
	rng     *rand.Rand
	hours   []float64
	topics  mqtt.Topics
}

func newGenerator(catalog *telemetry.Catalog, devices int, seed uint64) (*generator, error) {
	if devices < 1 || devices > catalog.MaxDevices() {
		return nil, fmt.Errorf("devices must be between 1 and %d, got %d", catalog.MaxDevices(), devices)
	}
	g := &generator{
		catalog: catalog,
		devices: devices,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // simulated data
		hours:   make([]float64, devices),
	}
	for i := range g.hours {
		g.hours[i] = float64(1000 + g.rng.IntN(20000))
	}
	return g, nil
}

// Round returns every tag for every device, stamped at now.
func (g *generator) Round(now time.Time) ([]message, error) {
	stamp := now.UTC().Format(timeLayout)
	fields := g.catalog.Fields()
	out := make([]message, 0, g.devices*len(fields))

	for device := 1; device <= g.devices; device++ {
		values := g.values(device)
		for _, field := range fields {
			tag, err := g.catalog.Tag(field, device)
			if err != nil {
				return nil, err
			}
			body, err := json.Marshal(wirePayload{
				Name:        tag,
				Value:       values[field],
				QualityCode: goodQuality,
				Time:        stamp,
			})
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", tag, err)
			}
			out = append(out, message{Topic: g.topics.Telemetry(tag), Payload: body})
		}
	}
	return out, nil
}

// values draws one consistent reading set. Stack aggregates are derived
// from the drawn cell voltages so min <= avg <= max always holds.
func (g *generator) values(device int) map[telemetry.Field]any {
	v := make(map[telemetry.Field]any, len(telemetry.AllFields))

	cells := make([]float64, telemetry.CellCount)
	sum, lo, hi := 0.0, math.Inf(1), math.Inf(-1)
	for i := range cells {
		c := g.draw(cellSpan)
		cells[i] = c
		sum += c
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
		v[telemetry.CellField(i+1)] = c
	}
	avg := sum / float64(len(cells))
	variance := 0.0
	for _, c := range cells {
		variance += (c - avg) * (c - avg)
	}

	v[telemetry.FieldTotalVoltage] = round3(sum)
	v[telemetry.FieldMaxVoltage] = hi
	v[telemetry.FieldMinVoltage] = lo
	v[telemetry.FieldAvgVoltage] = round3(avg)
	v[telemetry.FieldVoltageRange] = round3(hi - lo)
	v[telemetry.FieldStdDeviation] = round3(math.Sqrt(variance / float64(len(cells))))

	for field, s := range spans {
		v[field] = g.draw(s)
	}

	g.hours[device-1] += 0.01
	v[telemetry.FieldHours] = round3(g.hours[device-1])
	v[telemetry.FieldMachineModel] = fmt.Sprintf("ALK-%d", 1000+100*((device-1)%3))
	return v
}

func (g *generator) draw(s span) float64 {
	return round3(s.lo + g.rng.Float64()*(s.hi-s.lo))
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
