package geo

import (
	"math"
	"testing"
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

func TestHaversineKm(t *testing.T) {
	cases := []struct {
		name string
		a, b model.Coordinate
		want float64
		tol  float64
	}{
		{"same point", model.Coordinate{Lat: 12.9716, Lon: 77.5946}, model.Coordinate{Lat: 12.9716, Lon: 77.5946}, 0, 0.001},
		{"bangalore segment", model.Coordinate{Lat: 12.9716, Lon: 77.5946}, model.Coordinate{Lat: 13.0200, Lon: 77.7000}, 12.7, 0.5},
		{"paris to london", model.Coordinate{Lat: 48.8566, Lon: 2.3522}, model.Coordinate{Lat: 51.5074, Lon: -0.1278}, 343.5, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Fatalf("HaversineKm = %f, want %f +- %f", got, tc.want, tc.tol)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := model.Coordinate{Lat: 12.9716, Lon: 77.5946}
	b := model.Coordinate{Lat: 13.0200, Lon: 77.7000}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestHeadingDelta(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 50, 40},
		{350, 10, 20},
		{10, 350, 20},
		{0, 180, 180},
		{90, 271, 179},
	}
	for _, tc := range cases {
		if got := HeadingDelta(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("HeadingDelta(%f, %f) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestExtrapolateETA(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eta := ExtrapolateETA(30, 60, now)
	if want := now.Add(30 * time.Minute); !eta.Equal(want) {
		t.Fatalf("eta = %v, want %v", eta, want)
	}
	if !ExtrapolateETA(30, 0, now).IsZero() {
		t.Fatal("zero speed must give no estimate")
	}
	if !ExtrapolateETA(-1, 60, now).IsZero() {
		t.Fatal("negative distance must give no estimate")
	}
}

func TestClampProgress(t *testing.T) {
	if got := ClampProgress(-5); got != 0 {
		t.Fatalf("ClampProgress(-5) = %d", got)
	}
	if got := ClampProgress(105); got != 100 {
		t.Fatalf("ClampProgress(105) = %d", got)
	}
	if got := ClampProgress(42); got != 42 {
		t.Fatalf("ClampProgress(42) = %d", got)
	}
}
