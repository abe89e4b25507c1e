package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxDevices is the size of the reference fleet.
const DefaultMaxDevices = 15

// modelMarker identifies the machine model tag family.
const modelMarker = "Type"

// baseTags maps a WinCC base tag (device 1 form) to its canonical field.
var baseTags = map[string]Field{
	"SYS_T/CM_H": FieldHours,
	"ELE_I":      FieldTotalCurrent,
	"ELE_V":      FieldTotalVoltage,
	"cell_max":   FieldMaxVoltage,
	"cell_min":   FieldMinVoltage,
	"cell_ave":   FieldAvgVoltage,
	"cell_range": FieldVoltageRange,
	"标准差":        FieldStdDeviation,
	"PUMP_P":     FieldPumpPressure,
	"LCP_OUT":    FieldPumpOpening,
	"FAN_OUT":    FieldFanOpening,
	"DT118":      FieldSpecificGravity,
	"PT102":      FieldInletPressure,
	"LIT109":     FieldLiquidLevel,
	"PT104":      FieldOxygenOutletPressure,
	"PT105":      FieldHydrogenOutletPressure,
	"TT103":      FieldOxygenOutletTemp,
	"TT101":      FieldAlkaliInletTemp,
	"TT106":      FieldHydrogenOutletTemp,
	"TT114":      FieldHydrogenGasTemp,
	"FIT109":     FieldHydrogenFlowMeter,
	"AT132":      FieldOxygenInHydrogen,
	"AT131":      FieldHydrogenInOxygen,
	"当前能耗":       FieldCurrentPower,
	"ELE_PDT":    FieldPressureDiff,
	"SEP_PDT":    FieldSepPressureDiff,
}

func init() {
	for i := 1; i <= CellCount; i++ {
		baseTags["CELL"+strconv.Itoa(i)] = CellField(i)
	}
}

// Catalog resolves WinCC tag names to (device, field) pairs.
//
// Thread Safety:
//   - Immutable after construction; safe for concurrent use.
type Catalog struct {
	maxDevices int
	reverse    map[Field]string
}

// NewCatalog creates a catalog accepting devices 1..maxDevices.
// A non-positive maxDevices selects DefaultMaxDevices.
func NewCatalog(maxDevices int) *Catalog {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	reverse := make(map[Field]string, len(baseTags))
	for tag, field := range baseTags {
		reverse[field] = tag
	}
	return &Catalog{maxDevices: maxDevices, reverse: reverse}
}

// MaxDevices returns the highest device number the catalog accepts.
func (c *Catalog) MaxDevices() int {
	return c.maxDevices
}

// Resolve maps a tag to its device and canonical field.
//
// The model marker is checked first: "7_Type" is device 7 and a bare
// "Type" is device 1. Any other tag whose last "_" segment is all digits
// k belongs to device k+1; otherwise the device is 1.
//
// Returns:
//   - ErrUnmappedTag if the base tag is unknown
//   - ErrDeviceOutOfRange if the inferred device is outside 1..MaxDevices
func (c *Catalog) Resolve(tag string) (int, Field, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, "", fmt.Errorf("%w: empty tag", ErrUnmappedTag)
	}

	var (
		device int
		field  Field
	)

	if strings.Contains(tag, modelMarker) {
		device = modelDevice(tag)
		field = FieldMachineModel
	} else {
		base, k, ok := splitSuffix(tag)
		device = 1
		if ok {
			device = k + 1
		}
		f, found := baseTags[base]
		if !found {
			return 0, "", fmt.Errorf("%w: %q", ErrUnmappedTag, tag)
		}
		field = f
	}

	if device < 1 || device > c.maxDevices {
		return 0, "", fmt.Errorf("%w: %q resolves to device %d", ErrDeviceOutOfRange, tag, device)
	}
	return device, field, nil
}

// Tag returns the tag a device publishes for field.
func (c *Catalog) Tag(field Field, deviceID int) (string, error) {
	if deviceID < 1 || deviceID > c.maxDevices {
		return "", fmt.Errorf("%w: %d", ErrDeviceOutOfRange, deviceID)
	}
	if field == FieldMachineModel {
		if deviceID == 1 {
			return modelMarker, nil
		}
		return strconv.Itoa(deviceID) + "_" + modelMarker, nil
	}
	base, ok := c.reverse[field]
	if !ok {
		return "", fmt.Errorf("%w: no tag for field %q", ErrUnmappedTag, field)
	}
	if deviceID == 1 {
		return base, nil
	}
	return base + "_" + strconv.Itoa(deviceID-1), nil
}

// Fields returns every field the push feed can carry, in storage order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, 0, len(c.reverse)+1)
	for _, f := range AllFields {
		if f == FieldMachineModel {
			out = append(out, f)
			continue
		}
		if _, ok := c.reverse[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// modelDevice infers the device for a model tag. A leading integer
// ("7_Type") names the device directly; a trailing "_k" falls back to the
// generic k+1 rule; anything else is device 1.
func modelDevice(tag string) int {
	idx := strings.Index(tag, modelMarker)
	prefix := strings.TrimSuffix(tag[:idx], "_")
	if prefix != "" {
		if i := strings.LastIndex(prefix, "_"); i >= 0 {
			prefix = prefix[i+1:]
		}
		if n, ok := parseDigits(prefix); ok {
			return n
		}
	}
	if _, k, ok := splitSuffix(tag[idx:]); ok {
		return k + 1
	}
	return 1
}

// splitSuffix splits "BASE_k" into ("BASE", k, true). Tags with no
// all-digit trailing segment return (tag, 0, false).
func splitSuffix(tag string) (string, int, bool) {
	i := strings.LastIndex(tag, "_")
	if i <= 0 || i == len(tag)-1 {
		return tag, 0, false
	}
	k, ok := parseDigits(tag[i+1:])
	if !ok {
		return tag, 0, false
	}
	return tag[:i], k, true
}

// parseDigits accepts only ASCII digits, so signs and spaces never count as a suffix.
func parseDigits(s string) (int, bool) {
	if s == "" || len(s) > 6 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
