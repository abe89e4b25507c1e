package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/electrolyser-core/internal/store"
)

func TestTransform_CleaningRules(t *testing.T) {
	items := []Item{{
		"date":             "2025/10/27",
		"dateTime":         " 16:00:00 ",
		"mechine_num":      "3#",
		"mechine_model":    "ALK-1000",
		"total_current_a":  json.Number("950.5"),
		"voltage_max_mv":   "2001",
		"voltage_min_mv":   "",
		"voltage_avg_mv":   "n/a",
		"alkali_replenish": "是",
		"cell_1":           json.Number("1995"),
		"unknown_field":    "ignored",
	}}

	groups, dropped := Transform(items, 0)
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	rows := groups[3]
	if len(rows) != 1 {
		t.Fatalf("len(groups[3]) = %d, want 1", len(rows))
	}
	row := rows[0]

	if row.Date != "2025-10-27" {
		t.Errorf("Date = %q, want 2025-10-27", row.Date)
	}
	if row.Time != "16:00:00" {
		t.Errorf("Time = %q, want 16:00:00", row.Time)
	}

	tests := []struct {
		column string
		want   any
	}{
		{"machine_model", "ALK-1000"},
		{"total_current", 950.5},
		{"max_voltage", 2001.0},
		{"min_voltage", nil},
		{"avg_voltage", nil},
		{"is_alkali_refill", 1},
		{"cell_1", 1995.0},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, ok := row.Fields[tt.column]
			if !ok {
				t.Fatalf("Fields[%q] missing", tt.column)
			}
			if got != tt.want {
				t.Errorf("Fields[%q] = %v (%T), want %v (%T)", tt.column, got, got, tt.want, tt.want)
			}
		})
	}

	if _, ok := row.Fields["unknown_field"]; ok {
		t.Error("unmapped source field should be ignored")
	}
}

func TestTransform_AlkaliRefillNo(t *testing.T) {
	groups, _ := Transform([]Item{{
		"date":             "2025-10-27",
		"dateTime":         "16:00:00",
		"mechine_num":      "1#",
		"alkali_replenish": "否",
	}}, 0)
	if got := groups[1][0].Fields["is_alkali_refill"]; got != 0 {
		t.Errorf("is_alkali_refill = %v, want 0", got)
	}
}

func TestTransform_DropsInvalidMachine(t *testing.T) {
	items := []Item{
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "1#"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "abc"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": ""},
		{"date": "2025-10-27", "dateTime": "16:00:00"},
	}
	groups, dropped := Transform(items, 0)
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
	if len(groups) != 1 || len(groups[1]) != 1 {
		t.Errorf("groups = %v, want one row for device 1", groups)
	}
}

func TestTransform_DeviceRange(t *testing.T) {
	items := []Item{
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "15#"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "16#"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "99#"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "0#"},
	}

	tests := []struct {
		name        string
		maxDevices  int
		wantDevices []int
		wantDropped int
	}{
		{"default fleet", 0, []int{15}, 3},
		{"smaller fleet", 4, nil, 4},
		{"explicit fifteen", 15, []int{15}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, dropped := Transform(items, tt.maxDevices)
			if dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", dropped, tt.wantDropped)
			}
			if len(groups) != len(tt.wantDevices) {
				t.Fatalf("groups = %v, want devices %v", groups, tt.wantDevices)
			}
			for _, id := range tt.wantDevices {
				if len(groups[id]) != 1 {
					t.Errorf("groups[%d] = %v, want one row", id, groups[id])
				}
			}
		})
	}
}

func TestTransform_SortsAscending(t *testing.T) {
	items := []Item{
		{"date": "2025-10-27", "dateTime": "16:10:00", "mechine_num": "2#"},
		{"date": "2025-10-26", "dateTime": "23:59:00", "mechine_num": "2#"},
		{"date": "2025-10-27", "dateTime": "16:00:00", "mechine_num": "2#"},
	}
	groups, _ := Transform(items, 0)
	rows := groups[2]
	want := []string{"2025-10-26 23:59:00", "2025-10-27 16:00:00", "2025-10-27 16:10:00"}
	for i, r := range rows {
		if got := r.Date + " " + r.Time; got != want[i] {
			t.Errorf("rows[%d] = %s, want %s", i, got, want[i])
		}
	}
}

func TestRow_Insert(t *testing.T) {
	row := Row{DeviceID: 7, Date: "2025-10-27", Time: "16:00:00", Fields: map[string]any{"hours": 12.0}}
	got := row.Insert()

	checks := map[string]any{
		store.ColumnDate:        "2025-10-27",
		store.ColumnTime:        "16:00:00",
		store.ColumnMachineName: "7#",
		store.ColumnDeviceID:    7,
		store.ColumnSource:      store.SourceReconcile,
		"hours":                 12.0,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("Insert()[%q] = %v, want %v", k, got[k], want)
		}
	}
	if _, ok := row.Fields[store.ColumnDate]; ok {
		t.Error("Insert() must not mutate Fields")
	}
}

func TestRow_Timestamp(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	ts, err := Row{Date: "2025-10-27", Time: "16:00:00"}.Timestamp(loc)
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if want := time.Date(2025, 10, 27, 8, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("Timestamp() = %v, want %v", ts, want)
	}

	if _, err := (Row{Date: "", Time: "16:00:00"}).Timestamp(loc); err == nil {
		t.Error("Timestamp() with empty date should fail")
	}
}
