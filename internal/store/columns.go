package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// DefaultTable holds every composite reading row.
const DefaultTable = "electrolyser_readings"

// Row sources.
const (
	SourceMQTT      = "mqtt"
	SourceReconcile = "reconcile"
)

// Storage formats for the date and time columns (UTC+8 wall clock).
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Kind is a column's storage type.
type Kind int

// Column kinds.
const (
	KindText Kind = iota
	KindInteger
	KindReal
)

// Column describes one whitelisted column.
type Column struct {
	Name    string
	Kind    Kind
	NotNull bool
}

// Identity columns present on every row.
const (
	ColumnDate        = "date"
	ColumnTime        = "time"
	ColumnMachineName = "machine_name"
	ColumnDeviceID    = "device_id"
	ColumnSource      = "source"
)

// Columns is the closed set of writable columns in storage order.
var Columns = buildColumns()

var columnIndex = func() map[string]Column {
	idx := make(map[string]Column, len(Columns))
	for _, c := range Columns {
		idx[c.Name] = c
	}
	return idx
}()

func buildColumns() []Column {
	cols := []Column{
		{Name: ColumnDate, Kind: KindText, NotNull: true},
		{Name: ColumnTime, Kind: KindText, NotNull: true},
		{Name: ColumnMachineName, Kind: KindText, NotNull: true},
		{Name: ColumnDeviceID, Kind: KindInteger},
		{Name: ColumnSource, Kind: KindText},
	}
	for _, f := range telemetry.AllFields {
		kind := KindReal
		if f.IsText() {
			kind = KindText
		}
		cols = append(cols, Column{Name: string(f), Kind: kind})
	}
	return cols
}

// IsColumn reports whether name is a whitelisted column.
func IsColumn(name string) bool {
	_, ok := columnIndex[name]
	return ok
}

// ColumnNames returns the whitelisted column names in storage order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// RecordRow builds the insert fields for an assembled record. The record
// timestamp is formatted in its own location, which the normaliser has
// already set to the storage offset.
func RecordRow(rec *telemetry.Record, source string) map[string]any {
	row := make(map[string]any, len(rec.Fields)+5)
	for f, v := range rec.Fields {
		row[string(f)] = v
	}
	row[ColumnDate] = rec.Timestamp.Format(DateLayout)
	row[ColumnTime] = rec.Timestamp.Format(TimeLayout)
	row[ColumnMachineName] = telemetry.MachineName(rec.DeviceID)
	row[ColumnDeviceID] = rec.DeviceID
	row[ColumnSource] = source
	return row
}

// MaxTimestamp is the newest stored (date, time) for a device.
type MaxTimestamp struct {
	Date string
	Time string
}

// At parses the stored wall clock in loc.
func (m MaxTimestamp) At(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, m.Date+" "+m.Time, loc)
}

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

// buildInsert validates identifiers and renders a parameterised INSERT.
// Columns are sorted so the statement text is stable for a given key set.
func buildInsert(table string, fields map[string]any, ph placeholder) (string, []any, error) {
	if table != DefaultTable {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if len(fields) == 0 {
		return "", nil, ErrNoColumns
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !IsColumn(name) {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		marks[i] = ph(i + 1)
		args[i] = fields[name]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

// selectColumns is the projection used by QuerySnapshot.
func selectColumns() string {
	return "id, " + strings.Join(ColumnNames(), ", ")
}

func checkDevice(deviceID int) error {
	if deviceID < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDevice, deviceID)
	}
	return nil
}
