// Package datasettest builds small in-memory datasets for stage tests.
package datasettest

import (
	"testing"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

// Patients is an eight-row admissions table:
//
//	patient_id int, ward string, readmitted bool, length_of_stay float (one missing),
//	cost float, admitted datetime, age int
func Patients(t testing.TB) *dataset.Dataset {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	return Must(t, "patients",
		[]string{"patient_id", "ward", "readmitted", "length_of_stay", "cost", "admitted", "age"},
		[][]dataset.Value{
			{int64(1), "north", true, 3.0, 1200.0, day(1), int64(64)},
			{int64(2), "south", false, 4.5, 1500.0, day(2), int64(51)},
			{int64(3), "north", true, nil, 900.0, day(3), int64(72)},
			{int64(4), "east", false, 6.0, 2100.0, day(4), int64(45)},
			{int64(5), "south", true, 5.0, 1800.0, day(5), int64(80)},
			{int64(6), "north", false, 2.0, 700.0, day(6), int64(38)},
			{int64(7), "east", true, 7.0, 2500.0, day(7), int64(69)},
			{int64(8), "south", false, 3.5, 1100.0, day(8), int64(57)},
		})
}

// Stays is the two-column table of the readmission walkthrough.
func Stays(t testing.TB) *dataset.Dataset {
	t.Helper()
	return Must(t, "stays",
		[]string{"readmitted", "length_of_stay"},
		[][]dataset.Value{
			{true, 4.0},
			{false, 2.0},
			{true, 6.0},
			{false, 3.0},
			{false, 4.0},
		})
}

// Must builds a dataset or fails the test.
func Must(t testing.TB, name string, columns []string, rows [][]dataset.Value) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(name, columns, rows)
	if err != nil {
		t.Fatalf("datasettest: %v", err)
	}
	return d
}
