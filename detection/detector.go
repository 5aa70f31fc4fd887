// Package detection finds small bright moving blobs in preprocessed frames.
package detection

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"skytracker/config"
	"skytracker/types"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Detector fuses short-term frame differencing with a MOG2 background model.
// It owns the previous frame and the background statistics; parameter
// changes require a new Detector.
type Detector struct {
	cfg config.Detection
	log zerolog.Logger

	mu      sync.Mutex
	prev    gocv.Mat
	hasPrev bool
	mog2    gocv.BackgroundSubtractorMOG2
	kernel  gocv.Mat
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(d *Detector) { d.log = l } }

// New creates a Detector with an empty background model.
func New(cfg config.Detection, opts ...Option) *Detector {
	d := &Detector{
		cfg:    cfg,
		log:    zerolog.Nop(),
		prev:   gocv.NewMat(),
		mog2:   gocv.NewBackgroundSubtractorMOG2WithParams(cfg.MOG2History, cfg.MOG2VarThreshold, cfg.MOG2DetectShadows),
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.MorphKernelSize, cfg.MorphKernelSize)),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the parameters the Detector was built with.
func (d *Detector) Config() config.Detection { return d.cfg }

// Detect returns the blobs found in gray, a single-channel frame. An empty
// result is normal.
func (d *Detector) Detect(gray gocv.Mat, seq uint64, ts time.Time) []types.Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	mask := d.foreground(gray)
	defer mask.Close()

	// The previous frame is kept whatever the outcome.
	gray.CopyTo(&d.prev)
	d.hasPrev = true

	return d.extract(mask, gray, seq, ts)
}

// foreground builds the cleaned binary foreground mask for gray.
func (d *Detector) foreground(gray gocv.Mat) gocv.Mat {
	fg := gocv.NewMat()
	if err := d.mog2.Apply(gray, &fg); err != nil {
		d.log.Warn().Err(err).Msg("background model update failed")
		fg.Close()
		fg = gocv.Zeros(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U)
	}
	// With mog2_detect_shadows set, shadow pixels are marked 127 and count as
	// foreground like any other nonzero pixel.
	gocv.Threshold(fg, &fg, 0, 255, gocv.ThresholdBinary)

	if d.hasPrev && d.prev.Rows() == gray.Rows() && d.prev.Cols() == gray.Cols() {
		diff := gocv.NewMat()
		gocv.AbsDiff(d.prev, gray, &diff)
		gocv.Threshold(diff, &diff, float32(d.cfg.DiffThreshold), 255, gocv.ThresholdBinary)
		gocv.BitwiseOr(diff, fg, &fg)
		diff.Close()
	}

	for i := 0; i < d.cfg.MorphErodeIterations; i++ {
		gocv.Erode(fg, &fg, d.kernel)
	}
	for i := 0; i < d.cfg.MorphDilateIterations; i++ {
		gocv.Dilate(fg, &fg, d.kernel)
	}
	return fg
}

func (d *Detector) extract(mask, gray gocv.Mat, seq uint64, ts time.Time) []types.Detection {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil
	}

	blob := gocv.NewMatWithSize(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U)
	defer blob.Close()

	var out []types.Detection
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < d.cfg.MinContourArea || area > d.cfg.MaxContourArea {
			continue
		}
		if perimeter := gocv.ArcLength(contour, true); perimeter > 0 {
			if Circularity(area, perimeter) < d.cfg.MinCircularity {
				continue
			}
		}

		rect := gocv.BoundingRect(contour)
		blob.SetTo(gocv.NewScalar(0, 0, 0, 0))
		gocv.DrawContours(&blob, contours, i, white, -1)

		out = append(out, types.Detection{
			Center:     types.Point{X: rect.Min.X + rect.Dx()/2, Y: rect.Min.Y + rect.Dy()/2},
			Width:      rect.Dx(),
			Height:     rect.Dy(),
			Area:       area,
			Brightness: maskedMean(gray, blob, rect),
			FrameSeq:   seq,
			Timestamp:  ts,
		})
	}
	return out
}

// Circularity is 4πA/P²: 1 for a disc, near 0 for a line.
func Circularity(area, perimeter float64) float64 {
	if perimeter <= 0 {
		return 0
	}
	return 4 * math.Pi * area / (perimeter * perimeter)
}

// maskedMean averages gray over the nonzero pixels of mask inside rect.
func maskedMean(gray, mask gocv.Mat, rect image.Rectangle) float64 {
	rect = rect.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if rect.Empty() {
		return 0
	}
	roi := gray.Region(rect)
	defer roi.Close()
	m := mask.Region(rect)
	defer m.Close()
	if gocv.CountNonZero(m) == 0 {
		return 0
	}
	return roi.MeanWithMask(m).Val1
}

// Close releases the OpenCV resources.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev.Close()
	d.kernel.Close()
	return d.mog2.Close()
}
