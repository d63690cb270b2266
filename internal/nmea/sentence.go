// Package nmea decodes the receiver's line-delimited NMEA 0183 stream into
// position.Sample values (spec §4.1, C1).
//
// Adapted from the teacher's internal/parser.NMEAParser (manual "$", "*",
// comma-split tokenizing) and internal/position.ExtractFromGGA (manual
// ddmm.mmmm → decimal conversion), with the checksum validation and
// fix-quality mapping spec §4.1 requires layered on top, and GGA/VTG field
// decoding delegated to github.com/adrianmo/go-nmea the way the teacher's
// own main_rtk.go does (nmea.Parse, DataType, type-asserted GGA struct).
package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"github.com/bramburn/rovernav/internal/position"
)

// Counters tracks the parser's health statistics (spec §4.1, §4.7).
type Counters struct {
	ChecksumFailures int
	Malformed        int
	UnknownFixQuality int
	Stalls           int
}

// checksumValid verifies the XOR checksum of a raw NMEA line of the form
// "$...*HH". Sentences without a checksum field fail validation.
func checksumValid(line string) bool {
	if len(line) < 4 || line[0] != '$' {
		return false
	}
	star := strings.LastIndexByte(line, '*')
	if star < 1 || star+3 > len(line) {
		return false
	}
	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}

	var got byte
	for i := 1; i < star; i++ {
		got ^= line[i]
	}
	return got == byte(want)
}

// fixQualityMap implements spec §4.1's mapping table. go-nmea represents
// GGA.FixQuality as the single NMEA digit encoded as a string ("0".."8");
// ok is false for any value outside the mapped set, in which case the
// caller should fall back to GPS_SINGLE and count a warning.
func fixQualityMap(digit string) (q position.FixQuality, ok bool) {
	switch digit {
	case "0":
		return position.NoFix, true
	case "1":
		return position.GPSSingle, true
	case "2":
		return position.DGPS, true
	case "4":
		return position.RTKFixed, true
	case "5":
		return position.RTKFloat, true
	default:
		return position.GPSSingle, false
	}
}

// ggaFix holds the fields decoded from a GGA sentence, before merging with
// the most recent VTG heading/speed.
type ggaFix struct {
	lat, lon   float64
	altitude   float64
	hasAlt     bool
	fixQuality position.FixQuality
	satellites int
	hdop       float64
	hasHDOP    bool
}

func decodeGGA(line string) (ggaFix, error) {
	sentence, err := gonmea.Parse(line)
	if err != nil {
		return ggaFix{}, fmt.Errorf("nmea: parse GGA: %w", err)
	}
	gga, ok := sentence.(gonmea.GGA)
	if !ok {
		return ggaFix{}, fmt.Errorf("nmea: sentence is not GGA")
	}

	q, mapped := fixQualityMap(gga.FixQuality)

	fix := ggaFix{
		lat:        gga.Latitude,
		lon:        gga.Longitude,
		altitude:   gga.Altitude,
		hasAlt:     true,
		fixQuality: q,
		satellites: int(gga.NumSatellites),
		hdop:       gga.HDOP,
		hasHDOP:    true,
	}
	if !mapped {
		return fix, errUnknownFixQuality
	}
	return fix, nil
}

// errUnknownFixQuality is returned (alongside a usable, best-effort fix) by
// decodeGGA when the fix-quality digit isn't one of spec's mapped values.
var errUnknownFixQuality = fmt.Errorf("nmea: unmapped fix quality digit")

type vtgFix struct {
	courseDeg float64
	speedMPS  float64
}

// knotsToMPS is spec §4.1's mandated conversion factor.
const knotsToMPS = 0.5144444

func decodeVTG(line string) (vtgFix, error) {
	sentence, err := gonmea.Parse(line)
	if err != nil {
		return vtgFix{}, fmt.Errorf("nmea: parse VTG: %w", err)
	}
	vtg, ok := sentence.(gonmea.VTG)
	if !ok {
		return vtgFix{}, fmt.Errorf("nmea: sentence is not VTG")
	}
	return vtgFix{
		courseDeg: vtg.TrueTrack,
		speedMPS:  vtg.GroundSpeedKnots * knotsToMPS,
	}, nil
}

// sentenceType returns the 3-letter sentence type suffix (e.g. "GGA") of a
// raw line, or "" if the line is too short to classify.
func sentenceType(line string) string {
	star := strings.IndexByte(line, '*')
	body := line
	if star >= 0 {
		body = line[:star]
	}
	comma := strings.IndexByte(body, ',')
	head := body
	if comma >= 0 {
		head = body[:comma]
	}
	if len(head) < 3 {
		return ""
	}
	return head[len(head)-3:]
}

// fixQualityDigit inverts fixQualityMap, for composing the upstream GGA
// position report the correction link (C2) sends every GGA_INTERVAL.
func fixQualityDigit(q position.FixQuality) string {
	switch q {
	case position.NoFix:
		return "0"
	case position.GPSSingle:
		return "1"
	case position.DGPS:
		return "2"
	case position.RTKFixed:
		return "4"
	case position.RTKFloat:
		return "5"
	default:
		return "1"
	}
}

// ComposeGGA builds a checksummed $GPGGA sentence from pos, the shape NTRIP
// casters expect on the upstream back-channel (spec §4.2). Altitude and
// HDOP are omitted (left blank) when the sample doesn't carry them.
func ComposeGGA(pos position.Position) string {
	latDeg, latMin := toDDMM(math.Abs(pos.Latitude))
	lonDeg, lonMin := toDDMM(math.Abs(pos.Longitude))
	latHemi, lonHemi := "N", "E"
	if pos.Latitude < 0 {
		latHemi = "S"
	}
	if pos.Longitude < 0 {
		lonHemi = "W"
	}

	hdopField := ""
	if pos.HDOP != position.HDOPUnknown {
		hdopField = strconv.FormatFloat(pos.HDOP, 'f', 1, 64)
	}
	altField := ""
	if pos.HasAltitude {
		altField = strconv.FormatFloat(pos.Altitude, 'f', 1, 64)
	}

	body := fmt.Sprintf("GPGGA,%s,%02d%07.4f,%s,%03d%07.4f,%s,%s,%02d,%s,%s,M,0.0,M,,",
		time.Now().UTC().Format("150405.00"),
		latDeg, latMin, latHemi,
		lonDeg, lonMin, lonHemi,
		fixQualityDigit(pos.FixQuality),
		pos.Satellites,
		hdopField,
		altField,
	)
	return fmt.Sprintf("$%s*%02X\r\n", body, checksum(body))
}

// toDDMM splits an absolute decimal-degree value into its NMEA degrees and
// decimal-minutes parts.
func toDDMM(absDeg float64) (deg int, min float64) {
	deg = int(absDeg)
	min = (absDeg - float64(deg)) * 60
	return deg, min
}

// checksum computes the XOR checksum of an NMEA sentence body (between "$"
// and "*", exclusive).
func checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}
