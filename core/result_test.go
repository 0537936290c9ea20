package core

import "testing"

const sampleResult = `{
  "success": true,
  "scan": {
    "peak_count": 3,
    "results": [
      {"frequency_mhz": 120.5, "level_dbuv": 42.1, "pass": true},
      {"frequency_mhz": 240.0, "level_dbuv": 55.7, "pass": false}
    ]
  },
  "artifacts": [
    {"path": "scan.csv", "format": "csv"}
  ]
}`

func TestResult_PathAccess(t *testing.T) {
	res, err := NewResult("scan_frequencies", "eff-1", []byte(sampleResult))
	if err != nil {
		t.Fatalf("NewResult error: %v", err)
	}

	if res.Task() != "scan_frequencies" || res.EffectID() != "eff-1" {
		t.Fatalf("identity not carried: %s/%s", res.Task(), res.EffectID())
	}

	if res.Int("scan.peak_count") != 3 {
		t.Errorf("Int path lookup failed: %d", res.Int("scan.peak_count"))
	}

	if res.Float("scan.results.1.level_dbuv") != 55.7 {
		t.Errorf("Float path lookup failed: %f", res.Float("scan.results.1.level_dbuv"))
	}

	if res.Bool("scan.results.1.pass") {
		t.Error("Bool path lookup failed")
	}

	if !res.Exists("scan.results") || res.Exists("scan.missing") {
		t.Error("Exists misreports")
	}

	if !res.Success() {
		t.Error("explicit success=true misread")
	}

	artifacts := res.Artifacts()
	if len(artifacts) != 1 || artifacts[0].Path != "scan.csv" {
		t.Fatalf("artifact decode failed: %+v", artifacts)
	}
}

func TestResult_SuccessDefaultsToTrueWhenAbsent(t *testing.T) {
	res, err := NewResult("summarize", "eff-2", []byte(`{"summary": "done"}`))
	if err != nil {
		t.Fatal(err)
	}

	if !res.Success() {
		t.Error("results without a success field are successful by convention")
	}

	failing, _ := NewResult("summarize", "eff-3", []byte(`{"success": false}`))
	if failing.Success() {
		t.Error("explicit success=false misread")
	}
}

func TestResult_DecodeAndMapIsolation(t *testing.T) {
	res, err := NewResult("scan_frequencies", "eff-1", []byte(sampleResult))
	if err != nil {
		t.Fatal(err)
	}

	var typed struct {
		Scan struct {
			PeakCount int `json:"peak_count"`
		} `json:"scan"`
	}

	if err := res.Decode(&typed); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if typed.Scan.PeakCount != 3 {
		t.Errorf("typed decode failed: %+v", typed)
	}

	m := res.Map()
	m["success"] = false
	if !res.Success() {
		t.Error("Map must return a copy, not alias internal state")
	}
}

func TestResult_RejectsNonObjects(t *testing.T) {
	if _, err := NewResult("scan", "eff-1", []byte(`[1,2,3]`)); err == nil {
		t.Error("arrays are not valid task results")
	}

	if _, err := NewResult("scan", "eff-1", []byte(`not json`)); err == nil {
		t.Error("malformed JSON must be rejected")
	}
}
