package reconcile

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/store"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// alkaliRefillYes is the source's affirmative marker for an alkali top-up.
const alkaliRefillYes = "是"

// sourceFields maps snapshot source field names onto storage columns.
// Source fields not listed are ignored.
var sourceFields = func() map[string]string {
	m := map[string]string{
		"date":                     store.ColumnDate,
		"dateTime":                 store.ColumnTime,
		"mechine_num":              store.ColumnMachineName,
		"mechine_model":            string(telemetry.FieldMachineModel),
		"hours":                    string(telemetry.FieldHours),
		"total_current_a":          string(telemetry.FieldTotalCurrent),
		"voltage_max_mv":           string(telemetry.FieldMaxVoltage),
		"voltage_min_mv":           string(telemetry.FieldMinVoltage),
		"voltage_avg_mv":           string(telemetry.FieldAvgVoltage),
		"voltage_range_mv":         string(telemetry.FieldVoltageRange),
		"pump_outlet_pressure_mpa": string(telemetry.FieldPumpPressure),
		"pump_frequency_hz":        string(telemetry.FieldPumpOpening),
		"fan_opening":              string(telemetry.FieldFanOpening),
		"density_mg_cm3":           string(telemetry.FieldSpecificGravity),
		"inlet_pressure_mpa":       string(telemetry.FieldInletPressure),
		"liquid_level_mm":          string(telemetry.FieldLiquidLevel),
		"alkali_replenish":         string(telemetry.FieldIsAlkaliRefill),
		"o2_outlet_pressure_mpa":   string(telemetry.FieldOxygenOutletPressure),
		"h2_outlet_pressure_mpa":   string(telemetry.FieldHydrogenOutletPressure),
		"o2_outlet_temp_c":         string(telemetry.FieldOxygenOutletTemp),
		"h2_outlet_temp_c":         string(telemetry.FieldHydrogenOutletTemp),
		"h2_gas_temp_c":            string(telemetry.FieldHydrogenGasTemp),
		"h2_flow_rate":             string(telemetry.FieldHydrogenFlowMeter),
		"collected_water_mm":       string(telemetry.FieldWaterCollection),
		"total_drain_ml":           string(telemetry.FieldCumulativeDrainage),
		"o2_in_h2_ppm":             string(telemetry.FieldOxygenInHydrogen),
		"h2_in_o2_ppm":             string(telemetry.FieldHydrogenInOxygen),
	}
	// The source publishes the first twenty cells under their own names.
	for i := 1; i <= 20; i++ {
		name := string(telemetry.CellField(i))
		m[name] = name
	}
	return m
}()

// Row is one candidate storage row from the snapshot source.
type Row struct {
	DeviceID int
	Date     string
	Time     string

	// Fields holds measurement columns; nil values store as NULL.
	Fields map[string]any
}

// Timestamp parses the row's wall clock in loc.
func (r Row) Timestamp(loc *time.Location) (time.Time, error) {
	return store.MaxTimestamp{Date: r.Date, Time: r.Time}.At(loc)
}

// Insert returns the storage fields for the row.
func (r Row) Insert() map[string]any {
	out := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[store.ColumnDate] = r.Date
	out[store.ColumnTime] = r.Time
	out[store.ColumnMachineName] = telemetry.MachineName(r.DeviceID)
	out[store.ColumnDeviceID] = r.DeviceID
	out[store.ColumnSource] = store.SourceReconcile
	return out
}

// Transform maps source items to rows grouped by device, each group
// sorted by (date, time) ascending.
//
// Parameters:
//   - items: One snapshot page
//   - maxDevices: Highest accepted device number; non-positive selects
//     telemetry.DefaultMaxDevices
//
// Returns:
//   - map[int][]Row: Rows per device
//   - int: Items dropped because their machine name was missing, invalid
//     or outside 1..maxDevices
func Transform(items []Item, maxDevices int) (map[int][]Row, int) {
	if maxDevices <= 0 {
		maxDevices = telemetry.DefaultMaxDevices
	}
	groups := make(map[int][]Row)
	dropped := 0

	for _, item := range items {
		row, ok := transformItem(item)
		if !ok || row.DeviceID > maxDevices {
			dropped++
			continue
		}
		groups[row.DeviceID] = append(groups[row.DeviceID], row)
	}

	for _, rows := range groups {
		slices.SortStableFunc(rows, func(a, b Row) int {
			if c := strings.Compare(a.Date, b.Date); c != 0 {
				return c
			}
			return strings.Compare(a.Time, b.Time)
		})
	}
	return groups, dropped
}

func transformItem(item Item) (Row, bool) {
	row := Row{Fields: make(map[string]any)}
	var machine string

	for src, col := range sourceFields {
		raw, present := item[src]
		if !present {
			continue
		}
		value := clean(raw)

		switch col {
		case store.ColumnMachineName:
			machine, _ = value.(string)
		case store.ColumnDate:
			s, _ := value.(string)
			row.Date = strings.ReplaceAll(s, "/", "-")
		case store.ColumnTime:
			row.Time, _ = value.(string)
		case string(telemetry.FieldIsAlkaliRefill):
			if value == alkaliRefillYes {
				row.Fields[col] = 1
			} else {
				row.Fields[col] = 0
			}
		case string(telemetry.FieldMachineModel):
			row.Fields[col] = value
		default:
			row.Fields[col] = numeric(value)
		}
	}

	device, err := telemetry.ParseMachineName(machine)
	if err != nil {
		return Row{}, false
	}
	row.DeviceID = device
	return row, true
}

// clean trims strings and turns empty strings into nil.
func clean(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		return s
	case json.Number:
		return t.String()
	default:
		return v
	}
}

// numeric converts a cleaned value for a REAL column. Values that are
// not numbers store as NULL.
func numeric(v any) any {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		return f
	case float64:
		return t
	case bool:
		if t {
			return 1.0
		}
		return 0.0
	default:
		return nil
	}
}
