package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"skytracker/types"
	"skytracker/utils"
)

var (
	Red    = color.RGBA{R: 255}
	Green  = color.RGBA{G: 255}
	Cyan   = color.RGBA{G: 255, B: 255}
	Yellow = color.RGBA{R: 255, G: 255}
	Gray   = color.RGBA{R: 128, G: 128, B: 128}
	White  = color.RGBA{R: 255, G: 255, B: 255}
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 120}
)

const (
	markerSize   = 7
	labelScale   = 0.4
	hudScale     = 0.5
	stampScale   = 0.45
	debugScale   = 0.9
	helpScale    = 0.9
	maxLogLength = 50
)

// HUD is the status shown in the top-left corner.
type HUD struct {
	FPS    float64
	Tracks int
}

// LabelColor returns the overlay colour for a classification.
func LabelColor(l types.Label) color.RGBA {
	switch l {
	case types.Aircraft:
		return Green
	case types.Satellite:
		return Cyan
	case types.Anomalous:
		return Red
	default:
		return Gray
	}
}

// DrawTrack draws a crosshair at the centroid, the trajectory and an
// "#id label NN%" caption.
func DrawTrack(frame *gocv.Mat, tr types.Track) {
	c := LabelColor(tr.Label)
	center := image.Pt(tr.Centroid.X, tr.Centroid.Y)

	_ = gocv.Line(frame, center.Sub(image.Pt(markerSize, 0)), center.Add(image.Pt(markerSize, 0)), c, 1)
	_ = gocv.Line(frame, center.Sub(image.Pt(0, markerSize)), center.Add(image.Pt(0, markerSize)), c, 1)

	for i := 1; i < len(tr.Positions); i++ {
		a, b := tr.Positions[i-1], tr.Positions[i]
		_ = gocv.Line(frame, image.Pt(a.X, a.Y), image.Pt(b.X, b.Y), c, 1)
	}

	label := fmt.Sprintf("#%d %s", tr.ID, tr.Label)
	if tr.Confidence > 0 {
		label += fmt.Sprintf(" %.0f%%", tr.Confidence*100)
	}
	at := utils.ClampPoint(center.Add(image.Pt(10, -5)), frame.Cols(), frame.Rows())
	_ = gocv.PutText(frame, label, at, gocv.FontHersheySimplex, labelScale, c, 1)
}

// DrawHUD draws the measured frame rate and the live track count.
func DrawHUD(frame *gocv.Mat, hud HUD) {
	_ = gocv.PutText(frame, fmt.Sprintf("FPS: %.1f", hud.FPS), image.Pt(10, 20), gocv.FontHersheySimplex, hudScale, Green, 1)
	_ = gocv.PutText(frame, fmt.Sprintf("Tracks: %d", hud.Tracks), image.Pt(10, 40), gocv.FontHersheySimplex, hudScale, Green, 1)
}

// StampTime writes the wall-clock time in the bottom-left corner.
func StampTime(frame *gocv.Mat, now time.Time) {
	ts := now.Format("2006-01-02  15:04:05")
	gocv.PutTextWithParams(frame, ts, image.Pt(10, frame.Rows()-10), gocv.FontHersheySimplex, stampScale, White, 1, gocv.LineAA, false)
}

// Annotate draws every overlay of a processed frame in place.
func Annotate(frame *gocv.Mat, tracks []types.Track, hud HUD, now time.Time) {
	for _, tr := range tracks {
		DrawTrack(frame, tr)
	}
	DrawHUD(frame, hud)
	StampTime(frame, now)
}

// DrawRecordingStatus draws the clip recording timer.
func DrawRecordingStatus(frame *gocv.Mat, elapsed time.Duration) {
	text := fmt.Sprintf("REC %02d:%02d", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
	_ = gocv.PutText(frame, text, image.Pt(frame.Cols()-110, 20), gocv.FontHersheyPlain, 1.2, Red, 2)
}

// DrawHelpText draws the compact key help in the bottom-right corner.
func DrawHelpText(frame *gocv.Mat) {
	helpText := "r=reset  v=clip  d=debug  q=quit"

	textSize := gocv.GetTextSize(helpText, gocv.FontHersheyPlain, helpScale, 1)
	x := frame.Cols() - textSize.X - 15
	y := frame.Rows() - textSize.Y - 10
	helpRect := utils.ClampRect(image.Rect(x-5, y-5, x+textSize.X+5, y+textSize.Y+5), frame.Cols(), frame.Rows())

	_ = gocv.Rectangle(frame, helpRect, Black, -1)
	_ = gocv.PutText(frame, helpText, image.Pt(x, y+textSize.Y), gocv.FontHersheyPlain, helpScale, White, 1)
}

// DrawDebugLogs draws the given log lines in a panel on the right side.
func DrawDebugLogs(frame *gocv.Mat, logs []string) {
	if len(logs) == 0 {
		return
	}

	frameWidth := frame.Cols()
	startY := 60
	lineHeight := 16
	maxWidth := 330
	padding := 8

	debugHeight := (len(logs)+1)*lineHeight + padding
	debugRect := utils.ClampRect(
		image.Rect(frameWidth-maxWidth-padding, startY-lineHeight, frameWidth-padding, startY-lineHeight+debugHeight),
		frameWidth, frame.Rows())
	_ = gocv.Rectangle(frame, debugRect, Black, -1)

	header := fmt.Sprintf("Debug Logs (%d):", len(logs))
	_ = gocv.PutText(frame, header, image.Pt(frameWidth-maxWidth, startY), gocv.FontHersheyPlain, debugScale, Yellow, 1)

	for i, msg := range logs {
		if len(msg) > maxLogLength {
			msg = msg[:maxLogLength-3] + "..."
		}
		y := startY + (i+1)*lineHeight
		_ = gocv.PutText(frame, msg, image.Pt(frameWidth-maxWidth, y), gocv.FontHersheyPlain, debugScale, White, 1)
	}
}
