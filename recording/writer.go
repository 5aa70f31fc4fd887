package recording

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"skytracker/types"
)

// DefaultCodecs are tried in order until one opens.
var DefaultCodecs = []string{"mp4v", "avc1", "XVID", "MJPG"}

// ClipWriter persists a finished clip.
type ClipWriter interface {
	WriteClip(path string, frames []gocv.Mat, fps float64) error
}

// VideoFileWriter encodes clips with OpenCV's VideoWriter.
type VideoFileWriter struct {
	Codecs []string
}

// WriteClip writes frames to path at fps. Single-channel frames are converted
// to BGR.
func (w VideoFileWriter) WriteClip(path string, frames []gocv.Mat, fps float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames for %s", types.ErrClipWrite, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrClipWrite, err)
	}

	codecs := w.Codecs
	if len(codecs) == 0 {
		codecs = DefaultCodecs
	}

	first := frames[0]
	var (
		vw  *gocv.VideoWriter
		err error
	)
	for _, fourcc := range codecs {
		vw, err = gocv.VideoWriterFile(path, fourcc, fps, first.Cols(), first.Rows(), true)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: could not create video writer with any codec: %v", types.ErrClipWrite, err)
	}
	defer vw.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	for i, f := range frames {
		src := f
		if f.Channels() == 1 {
			gocv.CvtColor(f, &bgr, gocv.ColorGrayToBGR)
			src = bgr
		}
		if err := vw.Write(src); err != nil {
			return fmt.Errorf("%w: frame %d: %v", types.ErrClipWrite, i, err)
		}
	}
	return nil
}
