package client

import (
	"encoding/json"
	"testing"
)

func TestFlexFloat(t *testing.T) {
	tests := map[string]float64{
		`41.5`:    41.5,
		`"41.5"`:  41.5,
		`" 2.1 "`: 2.1,
		`null`:    0,
		`"abc"`:   0,
		`"NaN"`:   0,
		`"Inf"`:   0,
		`{}`:      0,
	}
	for in, want := range tests {
		var f flexFloat
		if err := json.Unmarshal([]byte(in), &f); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", in, err)
			continue
		}
		if float64(f) != want {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, f, want)
		}
	}
}

func TestFlexBool(t *testing.T) {
	tests := map[string]bool{
		`true`:    true,
		`1`:       true,
		`"1"`:     true,
		`"TRUE"`:  true,
		`false`:   false,
		`0`:       false,
		`null`:    false,
		`"maybe"`: false,
	}
	for in, want := range tests {
		var b flexBool
		if err := json.Unmarshal([]byte(in), &b); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", in, err)
			continue
		}
		if bool(b) != want {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, b, want)
		}
	}
}

func TestFlexString(t *testing.T) {
	tests := map[string]string{
		`"abc"`: "abc",
		`42`:    "42",
		`null`:  "",
		`[1]`:   "",
	}
	for in, want := range tests {
		var s flexString
		if err := json.Unmarshal([]byte(in), &s); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", in, err)
			continue
		}
		if string(s) != want {
			t.Errorf("Unmarshal(%s) = %q, want %q", in, s, want)
		}
	}
}

func TestDecodeStations_WrongFieldTypesDoNotFailRecord(t *testing.T) {
	body := []byte(`{"data":{"stations":[{"station_id":"9","lat":[],"lon":{},"capacity":"x"}]}}`)
	infos, skipped, err := decodeStations(body, decodeInfo)
	if err != nil {
		t.Fatalf("decodeStations() error = %v", err)
	}
	if skipped != 0 || len(infos) != 1 {
		t.Fatalf("got %d records, %d skipped; want 1, 0", len(infos), skipped)
	}
	if infos[0].Latitude != 0 || infos[0].Longitude != 0 || infos[0].Capacity != 0 {
		t.Errorf("infos[0] = %+v, want zero coordinates and capacity", infos[0])
	}
}
