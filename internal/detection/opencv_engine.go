//go:build opencv

package detection

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Model artifact names inside the models directory
const (
	mobileNetPrototxt = "MobileNetSSD_deploy.prototxt"
	mobileNetWeights  = "MobileNetSSD_deploy.caffemodel"
	yoloConfig        = "yolov3.cfg"
	yoloWeights       = "yolov3.weights"
	yoloClassNames    = "coco.names"
)

// OpenCVEngine runs inference in-process through OpenCV
type OpenCVEngine struct {
	modelsDir string
	hog       *gocv.HOGDescriptor
	net       *gocv.Net
	outLayers []string
	logger    *log.Entry
}

// NewOpenCVEngine creates an engine reading models from modelsDir
func NewOpenCVEngine(modelsDir string) (Engine, error) {
	return &OpenCVEngine{
		modelsDir: modelsDir,
		logger:    log.WithFields(log.Fields{"component": "detection", "engine": "opencv"}),
	}, nil
}

// Load initializes the detector or network for method
func (e *OpenCVEngine) Load(ctx context.Context, method Method) error {
	switch method {
	case MethodHOG:
		hog := gocv.NewHOGDescriptor()
		hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector())
		e.hog = &hog
		e.logger.Info("HOG people detector initialized")
		return nil

	case MethodMobileNet:
		proto, weights, err := e.artifacts(mobileNetPrototxt, mobileNetWeights)
		if err != nil {
			return err
		}
		net := gocv.ReadNetFromCaffe(proto, weights)
		if net.Empty() {
			return fmt.Errorf("%w: could not parse %s", pipeline.ErrModelUnavailable, weights)
		}
		e.net = &net

	case MethodYOLO:
		cfg, weights, err := e.artifacts(yoloConfig, yoloWeights)
		if err != nil {
			return err
		}
		if _, _, err := e.artifacts(yoloClassNames, yoloClassNames); err != nil {
			return err
		}
		net := gocv.ReadNetFromDarknet(cfg, weights)
		if net.Empty() {
			return fmt.Errorf("%w: could not parse %s", pipeline.ErrModelUnavailable, weights)
		}
		e.net = &net
		names := net.GetLayerNames()
		for _, idx := range net.GetUnconnectedOutLayers() {
			e.outLayers = append(e.outLayers, names[idx-1])
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	e.logger.WithField("method", string(method)).Info("DNN model loaded")
	return nil
}

func (e *OpenCVEngine) artifacts(a, b string) (string, string, error) {
	pa := filepath.Join(e.modelsDir, a)
	pb := filepath.Join(e.modelsDir, b)
	for _, p := range []string{pa, pb} {
		if _, err := os.Stat(p); err != nil {
			return "", "", fmt.Errorf("%w: %v", pipeline.ErrModelUnavailable, err)
		}
	}
	return pa, pb, nil
}

// DetectPeople runs the HOG detector. OpenCV's Go binding does not expose
// per-box weights, so every box is reported without one.
func (e *OpenCVEngine) DetectPeople(ctx context.Context, frame *pipeline.Frame, params HOGParams) (*HOGOutput, error) {
	if e.hog == nil {
		return nil, fmt.Errorf("hog detector not loaded")
	}
	mat, err := frameMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	rects := e.hog.DetectMultiScaleWithParams(gray, 0,
		image.Pt(params.WinStride, params.WinStride),
		image.Pt(params.Padding, params.Padding),
		params.Scale, 2.0, false)

	out := &HOGOutput{Boxes: make([][4]int, 0, len(rects))}
	for _, r := range rects {
		out.Boxes = append(out.Boxes, [4]int{r.Min.X, r.Min.Y, r.Dx(), r.Dy()})
	}
	return out, nil
}

// ForwardSSD runs MobileNet-SSD
func (e *OpenCVEngine) ForwardSSD(ctx context.Context, frame *pipeline.Frame) (*SSDOutput, error) {
	if e.net == nil {
		return nil, fmt.Errorf("mobilenet network not loaded")
	}
	mat, err := frameMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(SSDInputSize, SSDInputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, SSDScale, image.Pt(SSDInputSize, SSDInputSize),
		gocv.NewScalar(SSDMean, SSDMean, SSDMean, 0), false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	prob := e.net.Forward("")
	defer prob.Close()

	// [1, 1, N, 7] -> [N, 7]
	rows := prob.Total() / 7
	flat := prob.Reshape(1, rows)
	defer flat.Close()

	out := &SSDOutput{Detections: make([][]float32, 0, rows)}
	for i := 0; i < rows; i++ {
		row := make([]float32, 7)
		for j := range row {
			row[j] = flat.GetFloatAt(i, j)
		}
		out.Detections = append(out.Detections, row)
	}
	return out, nil
}

// ForwardYOLO runs YOLO over all unconnected output layers
func (e *OpenCVEngine) ForwardYOLO(ctx context.Context, frame *pipeline.Frame) (*YOLOOutput, error) {
	if e.net == nil {
		return nil, fmt.Errorf("yolo network not loaded")
	}
	mat, err := frameMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, YOLOScale, image.Pt(YOLOInputSize, YOLOInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	layers := e.net.ForwardLayers(e.outLayers)

	out := &YOLOOutput{Outputs: make([][][]float32, 0, len(layers))}
	for _, layer := range layers {
		rows := make([][]float32, 0, layer.Rows())
		for r := 0; r < layer.Rows(); r++ {
			row := make([]float32, layer.Cols())
			for c := range row {
				row[c] = layer.GetFloatAt(r, c)
			}
			rows = append(rows, row)
		}
		out.Outputs = append(out.Outputs, rows)
		layer.Close()
	}
	return out, nil
}

// Close frees native resources
func (e *OpenCVEngine) Close() error {
	if e.hog != nil {
		e.hog.Close()
		e.hog = nil
	}
	if e.net != nil {
		e.net.Close()
		e.net = nil
	}
	return nil
}

// frameMat returns a BGR Mat for the frame, preferring the original JPEG
func frameMat(frame *pipeline.Frame) (gocv.Mat, error) {
	if len(frame.Data) > 0 {
		mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
		if err == nil && !mat.Empty() {
			return mat, nil
		}
		mat.Close()
	}
	return gocv.ImageToMatRGB(frame.Image)
}

var _ Engine = (*OpenCVEngine)(nil)
