package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is a canonical storage column for one measured channel.
type Field string

// CellCount is the number of individual cell voltage channels.
const CellCount = 25

// Canonical fields. Cell voltages are built with CellField.
const (
	FieldMachineModel           Field = "machine_model"
	FieldHours                  Field = "hours"
	FieldTotalCurrent           Field = "total_current"
	FieldTotalVoltage           Field = "total_voltage"
	FieldMaxVoltage             Field = "max_voltage"
	FieldMinVoltage             Field = "min_voltage"
	FieldAvgVoltage             Field = "avg_voltage"
	FieldVoltageRange           Field = "voltage_range"
	FieldStdDeviation           Field = "std_deviation"
	FieldPumpPressure           Field = "pump_pressure"
	FieldPumpOpening            Field = "pump_opening"
	FieldFanOpening             Field = "fan_opening"
	FieldSpecificGravity        Field = "specific_gravity"
	FieldInletPressure          Field = "inlet_pressure"
	FieldLiquidLevel            Field = "liquid_level"
	FieldIsAlkaliRefill         Field = "is_alkali_refill"
	FieldOxygenOutletPressure   Field = "oxygen_outlet_pressure"
	FieldHydrogenOutletPressure Field = "hydrogen_outlet_pressure"
	FieldOxygenOutletTemp       Field = "oxygen_outlet_temp"
	FieldAlkaliInletTemp        Field = "alkali_inlet_temp"
	FieldHydrogenOutletTemp     Field = "hydrogen_outlet_temp"
	FieldHydrogenGasTemp        Field = "hydrogen_gas_temp"
	FieldHydrogenFlowMeter      Field = "hydrogen_flow_meter"
	FieldWaterCollection        Field = "water_collection"
	FieldCumulativeDrainage     Field = "cumulative_drainage"
	FieldOxygenInHydrogen       Field = "oxygen_in_hydrogen"
	FieldHydrogenInOxygen       Field = "hydrogen_in_oxygen"
	FieldCurrentPower           Field = "current_power"
	FieldPressureDiff           Field = "pressure_diff"
	FieldSepPressureDiff        Field = "sep_pressure_diff"
)

// CellField returns the field for cell n (1-based).
func CellField(n int) Field {
	return Field("cell_" + strconv.Itoa(n))
}

// AllFields lists every measurement column in storage order.
var AllFields = buildAllFields()

func buildAllFields() []Field {
	fields := []Field{FieldMachineModel, FieldHours, FieldTotalCurrent, FieldTotalVoltage}
	for i := 1; i <= CellCount; i++ {
		fields = append(fields, CellField(i))
	}
	return append(fields,
		FieldMaxVoltage, FieldMinVoltage, FieldAvgVoltage, FieldVoltageRange, FieldStdDeviation,
		FieldPumpPressure, FieldPumpOpening, FieldFanOpening, FieldSpecificGravity,
		FieldInletPressure, FieldLiquidLevel, FieldIsAlkaliRefill,
		FieldOxygenOutletPressure, FieldHydrogenOutletPressure,
		FieldOxygenOutletTemp, FieldAlkaliInletTemp, FieldHydrogenOutletTemp,
		FieldHydrogenGasTemp, FieldHydrogenFlowMeter,
		FieldWaterCollection, FieldCumulativeDrainage,
		FieldOxygenInHydrogen, FieldHydrogenInOxygen,
		FieldCurrentPower, FieldPressureDiff, FieldSepPressureDiff,
	)
}

// IsText reports whether the field is stored as text rather than a number.
func (f Field) IsText() bool {
	return f == FieldMachineModel
}

// MachineName formats a device number the way storage and the
// reconciliation source label units ("3#").
func MachineName(deviceID int) string {
	return strconv.Itoa(deviceID) + "#"
}

// ParseMachineName is the inverse of MachineName. Surrounding whitespace
// and a missing "#" are tolerated.
func ParseMachineName(name string) (int, error) {
	s := strings.TrimSuffix(strings.TrimSpace(name), "#")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMachineName, name)
	}
	return n, nil
}
