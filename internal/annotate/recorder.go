package annotate

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Codec is the FourCC used for annotated video output.
const Codec = "mp4v"

// ErrRecorderClosed is returned when writing to a closed Recorder.
var ErrRecorderClosed = errors.New("recorder is closed")

// Recorder writes annotated frames to a video file.
type Recorder struct {
	path   string
	writer *gocv.VideoWriter
	fps    float64
	frames int
	mu     sync.Mutex
	closed bool
}

// PlaybackFPS returns the output frame rate for a sampled video so that
// playback keeps the source's pace. Unknown source rates play at 1 fps.
func PlaybackFPS(sourceFPS float64, stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	fps := sourceFPS / float64(stride)
	if fps <= 0 {
		return 1
	}
	return fps
}

// NewRecorder opens path for writing width x height colour frames at fps.
func NewRecorder(path string, fps float64, width, height int) (*Recorder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("open recorder: invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		fps = 1
	}

	writer, err := gocv.VideoWriterFile(path, Codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open recorder %s: %w", path, err)
	}

	return &Recorder{path: path, writer: writer, fps: fps}, nil
}

// Write appends a frame to the video.
func (r *Recorder) Write(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	r.frames++
	return nil
}

// Frames returns how many frames have been written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// FPS returns the playback rate of the output.
func (r *Recorder) FPS() float64 { return r.fps }

// Path returns the output file path.
func (r *Recorder) Path() string { return r.path }

// Close finalizes the video file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}

// SaveImage writes an annotated still image; the format follows the path's
// extension.
func SaveImage(path string, img gocv.Mat) error {
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("write image %s: encoder failed", path)
	}
	return nil
}
