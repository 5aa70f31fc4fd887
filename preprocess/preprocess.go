// Package preprocess turns raw frames into detector input and display frames.
package preprocess

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"skytracker/config"
)

// Preprocessor scales, converts to intensity, equalizes local contrast and
// smooths frames. It owns its CLAHE operator; rebuild it on config changes.
type Preprocessor struct {
	mu    sync.Mutex
	size  image.Point
	blur  image.Point
	clahe gocv.CLAHE
}

// New creates a Preprocessor.
func New(cfg config.Processing) *Preprocessor {
	return &Preprocessor{
		size:  image.Pt(cfg.ResizeWidth, cfg.ResizeHeight),
		blur:  image.Pt(cfg.BlurKernel, cfg.BlurKernel),
		clahe: gocv.NewCLAHEWithParams(cfg.CLAHEClipLimit, image.Pt(cfg.CLAHEGridSize, cfg.CLAHEGridSize)),
	}
}

// Size returns the working resolution.
func (p *Preprocessor) Size() image.Point { return p.size }

// Process returns the single-channel detection image for src. The caller owns
// the returned Mat.
func (p *Preprocessor) Process(src gocv.Mat) gocv.Mat {
	resized := p.ResizeOnly(src)
	defer resized.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if resized.Channels() == 1 {
		resized.CopyTo(&gray)
	} else {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	}

	enhanced := gocv.NewMat()
	defer enhanced.Close()
	p.mu.Lock()
	p.clahe.Apply(gray, &enhanced)
	p.mu.Unlock()

	out := gocv.NewMat()
	gocv.GaussianBlur(enhanced, &out, p.blur, 0, 0, gocv.BorderDefault)
	return out
}

// ResizeOnly scales src to the working resolution, keeping its channels. The
// caller owns the returned Mat.
func (p *Preprocessor) ResizeOnly(src gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.Resize(src, &out, p.size, 0, 0, gocv.InterpolationArea)
	return out
}

// Close releases the CLAHE operator.
func (p *Preprocessor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clahe.Close()
}
