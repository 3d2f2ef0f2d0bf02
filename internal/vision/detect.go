package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found in a frame.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2 in frame pixels
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose tip, mouth corners
}

// Best returns the most confident detection, or nil for none.
func Best(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return &best
}

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	landmarksPerFace = 5
)

// RetinaFace det_10g decodes three feature maps.
var detStrides = []int{8, 16, 32}

// det_10g output names, per stride: scores [N,1], boxes [N,4], landmarks [N,10]
// with N = (640/stride)^2 * 2.
var detOutputs = [3][3]string{
	{"448", "451", "454"},
	{"471", "474", "477"},
	{"494", "497", "500"},
}

// Detector runs RetinaFace through ONNX Runtime. It is not safe for
// concurrent use; callers serialize access with a Guard.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	landmarks []*ort.Tensor[float32]
	threshold float32
}

// NewDetector loads the model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var (
		names  []string
		values []ort.Value
	)
	for i, stride := range detStrides {
		n := int64((detInputSize / stride) * (detInputSize / stride) * anchorsPerCell)
		for j, width := range []int64{1, 4, landmarksPerFace * 2} {
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(n, width))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create output tensor %s: %w", detOutputs[i][j], err)
			}
			switch j {
			case 0:
				d.scores = append(d.scores, t)
			case 1:
				d.boxes = append(d.boxes, t)
			case 2:
				d.landmarks = append(d.landmarks, t)
			}
			names = append(names, detOutputs[i][j])
			values = append(values, t)
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{d.input},
		values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect returns every face above the threshold after NMS, best first.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}

	toCHW(d.input.GetData(), img, detInputSize, detInputSize, detMean, detStd)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := d.decode(b.Dx(), b.Dy())
	return nms(dets, nmsIoUThreshold), nil
}

// decode turns anchor offsets into frame coordinates.
func (d *Detector) decode(frameW, frameH int) []Detection {
	var dets []Detection

	sx := float32(frameW) / detInputSize
	sy := float32(frameH) / detInputSize

	for si, stride := range detStrides {
		scores := d.scores[si].GetData()
		boxes := d.boxes[si].GetData()
		lms := d.landmarks[si].GetData()
		cells := detInputSize / stride
		st := float32(stride)

		for idx := range scores {
			if scores[idx] < d.threshold {
				continue
			}
			cell := idx / anchorsPerCell
			ax := float32(cell%cells) * st
			ay := float32(cell/cells) * st

			box := boxes[idx*4 : idx*4+4]
			det := Detection{
				BBox: [4]float32{
					clampF((ax-box[0]*st)*sx, 0, float32(frameW)),
					clampF((ay-box[1]*st)*sy, 0, float32(frameH)),
					clampF((ax+box[2]*st)*sx, 0, float32(frameW)),
					clampF((ay+box[3]*st)*sy, 0, float32(frameH)),
				},
				Confidence: scores[idx],
			}
			lm := lms[idx*10 : idx*10+10]
			for k := 0; k < landmarksPerFace; k++ {
				det.Landmarks[k] = [2]float32{(ax + lm[2*k]*st) * sx, (ay + lm[2*k+1]*st) * sy}
			}
			dets = append(dets, det)
		}
	}
	return dets
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.boxes, d.landmarks} {
		for _, t := range group {
			t.Destroy()
		}
	}
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := math.Max(float64(a[0]), float64(b[0]))
	y1 := math.Max(float64(a[1]), float64(b[1]))
	x2 := math.Min(float64(a[2]), float64(b[2]))
	y2 := math.Min(float64(a[3]), float64(b[3]))

	inter := float32(math.Max(0, x2-x1) * math.Max(0, y2-y1))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
