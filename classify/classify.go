// Package classify labels tracks with a fixed scoring heuristic over their
// brightness and motion history.
package classify

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"skytracker/config"
	"skytracker/types"
)

const (
	minHistory      = 5
	minBlinkSamples = 16
	flatStd         = 1e-6
	// flatBrightness bounds the variance, relative to the squared mean, below
	// which a brightness series counts as steady.
	flatBrightness = 1e-12
)

// Classifier scores tracks. It is safe for concurrent use.
type Classifier struct {
	mu  sync.RWMutex
	cfg config.Classification
	fps float64
}

// New creates a Classifier for a source running at fps frames per second.
func New(cfg config.Classification, fps float64) *Classifier {
	c := &Classifier{cfg: cfg}
	c.SetFPS(fps)
	return c
}

// SetFPS updates the frame rate used to map spectrum bins to Hz. Values below
// 1 are raised to 1.
func (c *Classifier) SetFPS(fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = math.Max(1, fps)
}

// FPS returns the frame rate in use.
func (c *Classifier) FPS() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fps
}

// SetConfig replaces the thresholds.
func (c *Classifier) SetConfig(cfg config.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Classify returns the label and confidence for tr. Tracks shorter than five
// points are Unknown with zero confidence.
func (c *Classifier) Classify(tr types.Track) (types.Label, float64) {
	if len(tr.Positions) < minHistory {
		return types.Unknown, 0
	}

	c.mu.RLock()
	cfg, fps := c.cfg, c.fps
	c.mu.RUnlock()

	scores := make(map[types.Label]float64, len(types.Labels))

	if BlinkPower(tr.Brightness, fps, cfg.BlinkFreqLow, cfg.BlinkFreqHigh) > cfg.BlinkPowerThreshold {
		scores[types.Aircraft] += 0.4
	} else {
		scores[types.Satellite] += 0.2
	}

	switch lin := Linearity(tr.Positions); {
	case lin > cfg.LinearityThreshold:
		scores[types.Satellite] += 0.4
	case lin > 0.5:
		scores[types.Aircraft] += 0.2
	default:
		scores[types.Anomalous] += 0.3
	}

	if speeds := Speeds(tr.Positions); len(speeds) > 0 {
		mean := stat.Mean(speeds, nil)
		variance := stat.PopVariance(speeds, nil)
		if mean >= cfg.SatelliteSpeedMin && mean <= cfg.SatelliteSpeedMax && variance < 1.0 {
			scores[types.Satellite] += 0.3
		}
		if variance < 5.0 {
			scores[types.Aircraft] += 0.1
		}
		if len(speeds) >= 3 && stat.PopVariance(diff(speeds), nil) > cfg.AccelerationVarThreshold {
			scores[types.Anomalous] += 0.4
		}
	}

	return decide(scores)
}

// decide picks the highest score; the first label in types.Labels wins ties.
func decide(scores map[types.Label]float64) (types.Label, float64) {
	var total float64
	best := types.Labels[0]
	for _, l := range types.Labels {
		total += scores[l]
		if scores[l] > scores[best] {
			best = l
		}
	}
	if total == 0 {
		return types.Unknown, 0
	}
	return best, math.Round(scores[best]/total*1000) / 1000
}

// BlinkPower returns the fraction of the mean-removed brightness spectrum that
// falls within [low, high] Hz, excluding the zero-frequency bin from the
// total. Series shorter than 16 samples and steady series return 0.
func BlinkPower(brightness []float64, fps, low, high float64) float64 {
	n := len(brightness)
	if n < minBlinkSamples {
		return 0
	}

	mean, variance := stat.PopMeanVariance(brightness, nil)
	if variance <= flatBrightness*math.Max(1, mean*mean) {
		return 0
	}
	signal := make([]float64, n)
	for i, v := range brightness {
		signal[i] = v - mean
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, signal)

	var band, total float64
	inBand := false
	for i, c := range coeffs {
		p := real(c)*real(c) + imag(c)*imag(c)
		if i > 0 {
			total += p
		}
		if f := fft.Freq(i) * fps; f >= low && f <= high {
			band += p
			inBand = true
		}
	}
	if !inBand || total == 0 {
		return 0
	}
	return band / total
}

// Linearity returns the R² of a least-squares line through positions, using
// the axis with the larger spread as the independent variable. The result is
// clamped to [0, 1]; stationary tracks score 0 and axis-aligned ones 1.
func Linearity(positions []types.Point) float64 {
	if len(positions) < 3 {
		return 0
	}
	xs := make([]float64, len(positions))
	ys := make([]float64, len(positions))
	for i, p := range positions {
		xs[i], ys[i] = float64(p.X), float64(p.Y)
	}

	sx, sy := popStd(xs), popStd(ys)
	if sx < flatStd && sy < flatStd {
		return 0
	}
	ind, dep := xs, ys
	if sy > sx {
		ind, dep = ys, xs
	}
	if popStd(ind) < flatStd {
		return 1
	}
	if stat.PopVariance(dep, nil) == 0 {
		return 1
	}

	alpha, beta := stat.LinearRegression(ind, dep, nil, false)
	r2 := stat.RSquared(ind, dep, nil, alpha, beta)
	if math.IsNaN(r2) || r2 < 0 {
		return 0
	}
	return math.Min(r2, 1)
}

// Speeds returns the distance between each pair of consecutive positions.
func Speeds(positions []types.Point) []float64 {
	if len(positions) < 2 {
		return nil
	}
	out := make([]float64, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		out[i-1] = positions[i].Dist(positions[i-1])
	}
	return out
}

func diff(xs []float64) []float64 {
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func popStd(xs []float64) float64 {
	return math.Sqrt(stat.PopVariance(xs, nil))
}
