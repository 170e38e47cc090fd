// Package units converts between print millimeters, typographic points,
// print-resolution pixels and 96-DPI screen pixels.
//
// Screen pixels (what an interactive editor reports) and print pixels (what
// the renderer paints at the requested DPI) are separate types. Converting
// one into the other always goes through millimeters.
package units

import "math"

const (
	// MMPerInch is the number of millimeters in one inch.
	MMPerInch = 25.4
	// ScreenDPI is the CSS reference resolution used by editors.
	ScreenDPI = 96
	// PointsPerInch is the typographic point resolution.
	PointsPerInch = 72
	// DefaultDPI is the print resolution used when a specification does not set one.
	DefaultDPI = 300

	screenPxPerPt = ScreenDPI / float64(PointsPerInch) // 1/0.75
)

// MM is a length in millimeters.
type MM float64

// PrintPx is a length in device pixels at some print DPI.
type PrintPx float64

// ScreenPx is a length in 96-DPI screen pixels.
type ScreenPx float64

// Pt is a typographic point (1/72 inch).
type Pt float64

// MMToPx converts millimeters to print pixels at dpi.
func MMToPx(mm MM, dpi int) PrintPx {
	return PrintPx(float64(mm) / MMPerInch * float64(dpi))
}

// PxToMM converts print pixels at dpi back to millimeters.
func PxToMM(px PrintPx, dpi int) MM {
	return MM(float64(px) * MMPerInch / float64(dpi))
}

// CSSPxToMM converts 96-DPI screen pixels to millimeters.
func CSSPxToMM(px ScreenPx) MM {
	return MM(float64(px) / (ScreenDPI / MMPerInch))
}

// MMToCSSPx converts millimeters to 96-DPI screen pixels.
func MMToCSSPx(mm MM) ScreenPx {
	return ScreenPx(float64(mm) * (ScreenDPI / MMPerInch))
}

// PtToScreenPx maps a point size into screen pixel space (pt / 0.75).
func PtToScreenPx(pt Pt) ScreenPx {
	return ScreenPx(float64(pt) * screenPxPerPt)
}

// ScreenPxToPt is the inverse of PtToScreenPx.
func ScreenPxToPt(px ScreenPx) Pt {
	return Pt(float64(px) / screenPxPerPt)
}

// PtToMM converts points to millimeters.
func PtToMM(pt Pt) MM {
	return MM(float64(pt) * MMPerInch / PointsPerInch)
}

// MMToPt converts millimeters to points.
func MMToPt(mm MM) Pt {
	return Pt(float64(mm) * PointsPerInch / MMPerInch)
}

// PtToPrintPx converts a point size to print pixels at dpi (pt * dpi / 72).
func PtToPrintPx(pt Pt, dpi int) PrintPx {
	return MMToPx(PtToMM(pt), dpi)
}

// Round returns px rounded to the nearest whole pixel, halves away from zero.
func (px PrintPx) Round() int {
	return int(math.Round(float64(px)))
}

// Round returns px rounded to the nearest whole pixel, halves away from zero.
func (px ScreenPx) Round() int {
	return int(math.Round(float64(px)))
}

// EffectiveDPI returns dpi, or DefaultDPI when dpi is not positive.
func EffectiveDPI(dpi int) int {
	if dpi <= 0 {
		return DefaultDPI
	}
	return dpi
}
