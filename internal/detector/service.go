package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Format identifies a detection backend and its native output format.
type Format string

const (
	// FormatYOLOv8 is the primary backend.
	FormatYOLOv8 Format = "yolov8"
	// FormatYOLOv5 is the legacy backend.
	FormatYOLOv5 Format = "yolov5"
)

// ErrModelNotFound is returned when the configured weights file does not exist.
var ErrModelNotFound = errors.New("model weights not found")

// script returns the service script file name for the format.
func (f Format) script() string {
	return string(f) + "_service.py"
}

// parse normalizes one response line.
func (f Format) parse(line []byte, threshold float64) ([]Detection, error) {
	switch f {
	case FormatYOLOv8:
		return parseYOLOv8(line, threshold)
	case FormatYOLOv5:
		return parseYOLOv5(line, threshold)
	default:
		return nil, fmt.Errorf("unsupported backend format %q", f)
	}
}

// ServiceDetector implements Detector using a Python inference subprocess.
//
// Each request is a 4-byte big-endian payload length, a 4-byte big-endian
// float32 confidence threshold and the frame encoded as JPEG. The service
// answers with a single JSON line in its native format.
type ServiceDetector struct {
	format    Format
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewServiceDetector creates a detector for the given backend format. The
// service is started once and must load the weights and report ready before
// the detector is returned. After an idle stop it is restarted on demand.
func NewServiceDetector(format Format, config Config) (*ServiceDetector, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, config.ModelPath)
	}

	scriptPath := findServiceScript(config.ScriptDir, format.script())
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", format.script())
	}

	d := &ServiceDetector{
		format: format,
		config: config,
		script: scriptPath,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureStarted(); err != nil {
		return nil, err
	}
	d.resetIdleTimer()

	return d, nil
}

// Format returns the backend format served by this detector.
func (d *ServiceDetector) Format() Format {
	return d.format
}

// Detect analyzes a frame and returns detections scoring at least threshold.
func (d *ServiceDetector) Detect(frame *gocv.Mat, threshold float64) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	binary.BigEndian.PutUint32(header[4:], math.Float32bits(float32(threshold)))
	if _, err := d.stdin.Write(header); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	dets, err := d.format.parse(line, threshold)
	if err != nil {
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return dets, nil
}

// Close shuts down the Python process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	pythonPath := d.config.Python
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	d.cmd = exec.Command(pythonPath, d.script, "--model", d.config.ModelPath)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start %s service: %w", d.format, err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	if err := d.awaitReady(); err != nil {
		d.shutdown()
		return err
	}

	log.Printf("[detector] started %s service (model %s)", d.format, d.config.ModelPath)
	d.lastUsed = time.Now()

	return nil
}

// readyLine is the first line a service writes, once its model has loaded
// or failed to.
type readyLine struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

// awaitReady reads the readiness line of a freshly started service.
func (d *ServiceDetector) awaitReady() error {
	timeout := d.config.StartTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StartTimeout
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func(r *bufio.Reader) {
		line, err := r.ReadBytes('\n')
		ch <- result{line, err}
	}(d.stdout)

	var res result
	select {
	case res = <-ch:
	case <-time.After(timeout):
		d.cmd.Process.Kill()
		return fmt.Errorf("%s service not ready after %s", d.format, timeout)
	}

	if res.err != nil {
		return fmt.Errorf("%s service exited before ready: %w", d.format, res.err)
	}

	var rl readyLine
	if err := json.Unmarshal(res.line, &rl); err != nil {
		return fmt.Errorf("%s service handshake: %w", d.format, err)
	}
	if !rl.Ready {
		if rl.Error == "" {
			rl.Error = "not ready"
		}
		return fmt.Errorf("%s service failed to load model: %s", d.format, rl.Error)
	}

	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()

	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *ServiceDetector) resetIdleTimer() {
	timeout := d.config.IdleTimeout
	if timeout <= 0 {
		return
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}

	d.idleTimer = time.AfterFunc(timeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript(dir, name string) string {
	if dir != "" {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return ""
		}
		return path
	}

	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".mindwatch", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}

	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mindwatch/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}

	return ""
}
