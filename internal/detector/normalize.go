package detector

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultClassNames maps model class ids to activity labels for the
// classroom model when the backend does not report its own names.
var DefaultClassNames = map[int]string{
	0: "listening",
	1: "reading",
	2: "sleeping",
	3: "student",
	4: "turn",
	5: "using_mobile",
	6: "writing",
}

// className resolves a class id, falling back to "class_<id>".
func className(names map[int]string, id int) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	if name, ok := DefaultClassNames[id]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}

// yolov8Output is the native result of the primary backend: parallel arrays
// of corner boxes, scores and class ids.
type yolov8Output struct {
	Boxes [][]float64       `json:"boxes"`
	Conf  []float64         `json:"conf"`
	Cls   []int             `json:"cls"`
	Names map[string]string `json:"names"`
	Error string            `json:"error"`
}

// parseYOLOv8 normalizes a primary backend response line.
func parseYOLOv8(data []byte, threshold float64) ([]Detection, error) {
	var out yolov8Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse yolov8 response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("yolov8 service: %s", out.Error)
	}
	if len(out.Conf) != len(out.Boxes) || len(out.Cls) != len(out.Boxes) {
		return nil, fmt.Errorf("yolov8 response: %d boxes, %d scores, %d classes",
			len(out.Boxes), len(out.Conf), len(out.Cls))
	}

	names := make(map[int]string, len(out.Names))
	for k, v := range out.Names {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		names[id] = v
	}

	dets := make([]Detection, 0, len(out.Boxes))
	for i, box := range out.Boxes {
		if len(box) < 4 {
			return nil, fmt.Errorf("yolov8 response: box %d has %d values", i, len(box))
		}
		if out.Conf[i] < threshold {
			continue
		}
		dets = append(dets, FromCorners(className(names, out.Cls[i]), out.Conf[i],
			box[0], box[1], box[2], box[3]))
	}

	return dets, nil
}

// yolov5Row is one row of the legacy backend's tabular result.
type yolov5Row struct {
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
	Name       string  `json:"name"`
}

type yolov5Output struct {
	Rows  []yolov5Row `json:"rows"`
	Error string      `json:"error"`
}

// parseYOLOv5 normalizes a legacy backend response line.
func parseYOLOv5(data []byte, threshold float64) ([]Detection, error) {
	var out yolov5Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse yolov5 response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("yolov5 service: %s", out.Error)
	}

	dets := make([]Detection, 0, len(out.Rows))
	for _, r := range out.Rows {
		if r.Confidence < threshold {
			continue
		}
		name := r.Name
		if name == "" {
			name = className(nil, r.Class)
		}
		dets = append(dets, FromCorners(name, r.Confidence, r.XMin, r.YMin, r.XMax, r.YMax))
	}

	return dets, nil
}
