package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// ErrInvalidTLE indicates that a two-line element set cannot be propagated.
var ErrInvalidTLE = errors.New("invalid TLE")

// GroundTrack reports where the spacecraft is looking at a given time.
type GroundTrack interface {
	FootprintAt(t time.Time) (model.Footprint, error)
}

// StaticGroundTrack always reports the same point. It is used when no TLE
// is configured.
type StaticGroundTrack struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeKm   float64
}

// FootprintAt for a static track ignores time except for stamping it.
func (s StaticGroundTrack) FootprintAt(t time.Time) (model.Footprint, error) {
	return model.Footprint{
		Time:         t,
		LatitudeDeg:  s.LatitudeDeg,
		LongitudeDeg: s.LongitudeDeg,
		AltitudeKm:   s.AltitudeKm,
	}, nil
}

// OrbitalGroundTrack propagates a TLE with SGP4 and projects the position to
// geodetic coordinates.
type OrbitalGroundTrack struct {
	sat satellite.Satellite
}

// NewOrbitalGroundTrack constructs a ground track from TLE lines.
func NewOrbitalGroundTrack(line1, line2 string) (*OrbitalGroundTrack, error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) != 69 || len(line2) != 69 || line1[0] != '1' || line2[0] != '2' {
		return nil, fmt.Errorf("%w: lines must be 69 characters starting with 1 and 2", ErrInvalidTLE)
	}
	if err := checkTLEFields(line1, line2); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalGroundTrack{sat: sat}, nil
}

// tleField is one numeric column of a TLE as go-satellite slices it.
type tleField struct {
	name  string
	value string
	isInt bool
}

// checkTLEFields parses every field TLEToSat reads. go-satellite exits the
// process on a malformed number, so bad input must be rejected here.
func checkTLEFields(line1, line2 string) error {
	compact := func(s string) string { return strings.Replace(s, " ", "", 2) }
	fields := []tleField{
		{"satellite number", strings.TrimSpace(line1[2:7]), true},
		{"epoch year", line1[18:20], true},
		{"epoch day", line1[20:32], false},
		{"mean motion derivative", compact(line1[33:43]), false},
		{"mean motion second derivative", compact(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52]), false},
		{"drag term", compact(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61]), false},
		{"inclination", compact(line2[8:16]), false},
		{"right ascension", compact(line2[17:25]), false},
		{"eccentricity", "." + line2[26:33], false},
		{"argument of perigee", compact(line2[34:42]), false},
		{"mean anomaly", compact(line2[43:51]), false},
		{"mean motion", compact(line2[52:63]), false},
	}
	for _, f := range fields {
		var err error
		if f.isInt {
			_, err = strconv.ParseInt(f.value, 10, 0)
		} else {
			_, err = strconv.ParseFloat(f.value, 64)
		}
		if err != nil {
			return fmt.Errorf("%w: %s %q is not a number", ErrInvalidTLE, f.name, f.value)
		}
	}
	return nil
}

// FootprintAt propagates to t. go-satellite works in kilometres and radians.
func (m *OrbitalGroundTrack) FootprintAt(t time.Time) (model.Footprint, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	alt, _, latLong := satellite.ECIToLLA(posECI, gmst)
	deg := satellite.LatLongDeg(latLong)

	if math.IsNaN(alt) || math.IsNaN(deg.Latitude) || math.IsNaN(deg.Longitude) {
		return model.Footprint{}, fmt.Errorf("%w: propagation diverged at %s", ErrInvalidTLE, t.Format(time.RFC3339))
	}

	return model.Footprint{
		Time:         t,
		LatitudeDeg:  deg.Latitude,
		LongitudeDeg: deg.Longitude,
		AltitudeKm:   alt,
	}, nil
}

// NewGroundTrack chooses SGP4 when both TLE lines are set, otherwise a static
// track at the origin.
func NewGroundTrack(tle1, tle2 string) (GroundTrack, error) {
	if tle1 == "" && tle2 == "" {
		return StaticGroundTrack{}, nil
	}
	return NewOrbitalGroundTrack(tle1, tle2)
}
