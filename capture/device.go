package capture

import (
	"fmt"
	"os"
	"strconv"

	"gocv.io/x/gocv"

	"skytracker/types"
)

// Device is an open video origin. Grab checks whether a new frame is ready
// without decoding it; Retrieve decodes the grabbed frame into dst.
type Device interface {
	Grab() bool
	Retrieve(dst *gocv.Mat) bool
	FPS() float64
	Close() error
}

// Opener opens a Device for a source URI.
type Opener func(uri string) (Device, error)

// cvDevice wraps a gocv capture. gocv exposes no separate grab flag, so Grab
// reads into a pending Mat and Retrieve hands that Mat's pixels over.
type cvDevice struct {
	cap     *gocv.VideoCapture
	pending gocv.Mat
}

// OpenCV opens a camera index, a local file, or a stream URL with gocv.
func OpenCV(uri string) (Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if _, statErr := os.Stat(uri); statErr == nil {
		vc, err = gocv.VideoCaptureFile(uri)
	} else if id, convErr := strconv.Atoi(uri); convErr == nil {
		vc, err = gocv.VideoCaptureDevice(id)
	} else {
		vc, err = gocv.VideoCaptureFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrSourceUnavailable, uri, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: not opened", types.ErrSourceUnavailable, uri)
	}
	return &cvDevice{cap: vc, pending: gocv.NewMat()}, nil
}

func (d *cvDevice) Grab() bool {
	return d.cap.Read(&d.pending)
}

func (d *cvDevice) Retrieve(dst *gocv.Mat) bool {
	if d.pending.Empty() {
		return false
	}
	d.pending.CopyTo(dst)
	return !dst.Empty()
}

func (d *cvDevice) FPS() float64 {
	return d.cap.Get(gocv.VideoCaptureFPS)
}

func (d *cvDevice) Close() error {
	d.pending.Close()
	return d.cap.Close()
}
