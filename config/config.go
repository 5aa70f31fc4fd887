package config

import (
	"fmt"
	"time"
)

// Capture holds frame source settings. Durations are in seconds.
type Capture struct {
	URL            string  `json:"url"`
	ReconnectDelay float64 `json:"reconnect_delay"`
	GrabTimeout    float64 `json:"grab_timeout"`
}

// Processing holds preprocessing settings.
type Processing struct {
	ResizeWidth    int     `json:"resize_width"`
	ResizeHeight   int     `json:"resize_height"`
	CLAHEClipLimit float64 `json:"clahe_clip_limit"`
	CLAHEGridSize  int     `json:"clahe_grid_size"`
	BlurKernel     int     `json:"blur_kernel"`
	FrameSkip      int     `json:"frame_skip"`
}

// Detection holds detector settings.
type Detection struct {
	DiffThreshold         int     `json:"diff_threshold"`
	MOG2History           int     `json:"mog2_history"`
	MOG2VarThreshold      float64 `json:"mog2_var_threshold"`
	MOG2DetectShadows     bool    `json:"mog2_detect_shadows"`
	MorphKernelSize       int     `json:"morph_kernel_size"`
	MorphErodeIterations  int     `json:"morph_erode_iterations"`
	MorphDilateIterations int     `json:"morph_dilate_iterations"`
	MinContourArea        float64 `json:"min_contour_area"`
	MaxContourArea        float64 `json:"max_contour_area"`
	MinCircularity        float64 `json:"min_circularity"`
}

// Tracking holds tracker settings.
type Tracking struct {
	MaxDistance    float64 `json:"max_distance"`
	MaxDisappeared int     `json:"max_disappeared"`
	MinTrackLength int     `json:"min_track_length"`
	MaxHistory     int     `json:"max_history"`
}

// Classification holds classifier thresholds. Frequencies are in Hz, speeds
// in pixels per processed frame.
type Classification struct {
	BlinkFreqLow             float64 `json:"blink_freq_low"`
	BlinkFreqHigh            float64 `json:"blink_freq_high"`
	BlinkPowerThreshold      float64 `json:"blink_power_threshold"`
	LinearityThreshold       float64 `json:"linearity_threshold"`
	SatelliteSpeedMin        float64 `json:"satellite_speed_min"`
	SatelliteSpeedMax        float64 `json:"satellite_speed_max"`
	AccelerationVarThreshold float64 `json:"acceleration_var_threshold"`
}

// Recording holds clip and event store settings.
type Recording struct {
	ClipPreBuffer  float64 `json:"clip_pre_buffer"`
	ClipPostBuffer float64 `json:"clip_post_buffer"`
	ClipDir        string  `json:"clip_dir"`
	DBPath         string  `json:"db_path"`
	ClipFPS        float64 `json:"clip_fps"`
}

// App is the complete configuration.
type App struct {
	Capture        Capture        `json:"capture"`
	Processing     Processing     `json:"processing"`
	Detection      Detection      `json:"detection"`
	Tracking       Tracking       `json:"tracking"`
	Classification Classification `json:"classification"`
	Recording      Recording      `json:"recording"`
	Schedule       Schedule       `json:"schedule"`
}

// Default returns the default configuration.
func Default() App {
	return App{
		Capture: Capture{
			URL:            "rtsp://127.0.0.1:554/stream1",
			ReconnectDelay: 5.0,
			GrabTimeout:    10.0,
		},
		Processing: Processing{
			ResizeWidth:    640,
			ResizeHeight:   360,
			CLAHEClipLimit: 2.0,
			CLAHEGridSize:  8,
			BlurKernel:     5,
			FrameSkip:      2,
		},
		Detection: Detection{
			DiffThreshold:         25,
			MOG2History:           500,
			MOG2VarThreshold:      40,
			MOG2DetectShadows:     false,
			MorphKernelSize:       3,
			MorphErodeIterations:  1,
			MorphDilateIterations: 2,
			MinContourArea:        4,
			MaxContourArea:        500,
			MinCircularity:        0.3,
		},
		Tracking: Tracking{
			MaxDistance:    50,
			MaxDisappeared: 15,
			MinTrackLength: 5,
			MaxHistory:     300,
		},
		Classification: Classification{
			BlinkFreqLow:             0.5,
			BlinkFreqHigh:            3.0,
			BlinkPowerThreshold:      0.3,
			LinearityThreshold:       0.85,
			SatelliteSpeedMin:        1.0,
			SatelliteSpeedMax:        8.0,
			AccelerationVarThreshold: 2.0,
		},
		Recording: Recording{
			ClipPreBuffer:  3.0,
			ClipPostBuffer: 5.0,
			ClipDir:        "data/clips",
			DBPath:         "data/db/detections.db",
			ClipFPS:        15.0,
		},
		Schedule: Schedule{
			Enabled:   false,
			StartTime: "20:00",
			EndTime:   "06:00",
		},
	}
}

// Seconds converts a float seconds setting into a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks every group.
func (a App) Validate() error {
	for _, v := range []interface{ Validate() error }{
		a.Capture, a.Processing, a.Detection, a.Tracking, a.Classification, a.Recording, a.Schedule,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Capture) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url must not be empty")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %v", c.ReconnectDelay)
	}
	if c.GrabTimeout <= 0 {
		return fmt.Errorf("grab_timeout must be positive, got %v", c.GrabTimeout)
	}
	return nil
}

func (p Processing) Validate() error {
	if p.ResizeWidth <= 0 || p.ResizeHeight <= 0 {
		return fmt.Errorf("resize dimensions must be positive, got %dx%d", p.ResizeWidth, p.ResizeHeight)
	}
	if p.CLAHEClipLimit <= 0 {
		return fmt.Errorf("clahe_clip_limit must be positive")
	}
	if p.CLAHEGridSize <= 0 {
		return fmt.Errorf("clahe_grid_size must be positive")
	}
	if p.BlurKernel <= 0 || p.BlurKernel%2 == 0 {
		return fmt.Errorf("blur_kernel must be a positive odd number, got %d", p.BlurKernel)
	}
	if p.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be at least 1, got %d", p.FrameSkip)
	}
	return nil
}

func (d Detection) Validate() error {
	if d.DiffThreshold < 0 || d.DiffThreshold > 255 {
		return fmt.Errorf("diff_threshold must be in [0, 255], got %d", d.DiffThreshold)
	}
	if d.MOG2History <= 0 {
		return fmt.Errorf("mog2_history must be positive")
	}
	if d.MOG2VarThreshold <= 0 {
		return fmt.Errorf("mog2_var_threshold must be positive")
	}
	if d.MorphKernelSize <= 0 {
		return fmt.Errorf("morph_kernel_size must be positive")
	}
	if d.MorphErodeIterations < 0 || d.MorphDilateIterations < 0 {
		return fmt.Errorf("morphology iterations must not be negative")
	}
	if d.MinContourArea < 0 || d.MaxContourArea < d.MinContourArea {
		return fmt.Errorf("contour area range [%v, %v] is invalid", d.MinContourArea, d.MaxContourArea)
	}
	if d.MinCircularity < 0 || d.MinCircularity > 1 {
		return fmt.Errorf("min_circularity must be in [0, 1], got %v", d.MinCircularity)
	}
	return nil
}

func (t Tracking) Validate() error {
	if t.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive")
	}
	if t.MaxDisappeared < 0 {
		return fmt.Errorf("max_disappeared must not be negative")
	}
	if t.MinTrackLength < 1 {
		return fmt.Errorf("min_track_length must be at least 1")
	}
	if t.MaxHistory < t.MinTrackLength {
		return fmt.Errorf("max_history (%d) must be at least min_track_length (%d)", t.MaxHistory, t.MinTrackLength)
	}
	return nil
}

func (c Classification) Validate() error {
	if c.BlinkFreqLow < 0 || c.BlinkFreqHigh <= c.BlinkFreqLow {
		return fmt.Errorf("blink band [%v, %v] is invalid", c.BlinkFreqLow, c.BlinkFreqHigh)
	}
	if c.SatelliteSpeedMax < c.SatelliteSpeedMin {
		return fmt.Errorf("satellite speed range [%v, %v] is invalid", c.SatelliteSpeedMin, c.SatelliteSpeedMax)
	}
	if c.LinearityThreshold < 0 || c.LinearityThreshold > 1 {
		return fmt.Errorf("linearity_threshold must be in [0, 1]")
	}
	return nil
}

func (r Recording) Validate() error {
	if r.ClipPreBuffer < 0 || r.ClipPostBuffer <= 0 {
		return fmt.Errorf("clip buffers must be non-negative (pre) and positive (post)")
	}
	if r.ClipDir == "" || r.DBPath == "" {
		return fmt.Errorf("clip_dir and db_path must be set")
	}
	if r.ClipFPS <= 0 {
		return fmt.Errorf("clip_fps must be positive")
	}
	return nil
}
