package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnalyzeMethod is the full RPC name served by the face analysis service
const AnalyzeMethod = "/deepface.v1.FaceAnalysis/Analyze"

// GRPCConfig holds configuration for the gRPC analyzer
type GRPCConfig struct {
	Endpoint string
	Timeout  time.Duration
	// DialOptions are appended to the defaults, mostly for tests
	DialOptions []grpc.DialOption
}

// GRPCAnalyzer calls a remote face analysis service. Messages are
// google.protobuf.Struct so no generated stubs are needed.
type GRPCAnalyzer struct {
	endpoint string
	conn     *grpc.ClientConn
	timeout  time.Duration
	logger   *log.Entry
}

// NewGRPCAnalyzer creates the client connection. The connection itself is
// established lazily on the first call.
func NewGRPCAnalyzer(cfg GRPCConfig) (*GRPCAnalyzer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", cfg.Endpoint, err)
	}

	g := &GRPCAnalyzer{
		endpoint: cfg.Endpoint,
		conn:     conn,
		timeout:  timeout,
		logger:   log.WithFields(log.Fields{"component": "emotion", "analyzer": "grpc", "endpoint": cfg.Endpoint}),
	}
	g.logger.Info("Emotion analyzer client created")
	return g, nil
}

// Analyze sends one region to the service
func (g *GRPCAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) ([]Analysis, error) {
	img, err := encodeJPEG(req.Image)
	if err != nil {
		return nil, err
	}

	in, err := structpb.NewStruct(map[string]interface{}{
		"image":             base64.StdEncoding.EncodeToString(img),
		"enforce_detection": req.EnforceDetection,
		"detector_backend":  req.DetectorBackend,
		"actions":           []interface{}{"emotion"},
	})
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, AnalyzeMethod, in, out); err != nil {
		return nil, mapStatus(err)
	}
	return analysesFromStruct(out)
}

// mapStatus converts service status codes into analyzer errors
func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("analyze rpc: %w", err)
	}
	switch st.Code() {
	case codes.NotFound, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrNoFace, st.Message())
	case codes.Unimplemented:
		// the service is up but its classifier library is missing
		return &UnavailableError{Message: st.Message()}
	default:
		return fmt.Errorf("analyze rpc: %w", err)
	}
}

func analysesFromStruct(s *structpb.Struct) ([]Analysis, error) {
	raw, ok := s.GetFields()["results"]
	if !ok {
		return nil, errors.New("analyze response has no results field")
	}
	list := raw.GetListValue()
	if list == nil {
		return nil, errors.New("analyze response results is not a list")
	}

	out := make([]Analysis, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		face := v.GetStructValue()
		if face == nil {
			return nil, fmt.Errorf("analyze result %d is not an object", i)
		}
		fields := face.GetFields()
		a := Analysis{
			DominantEmotion: fields["dominant_emotion"].GetStringValue(),
			FaceConfidence:  fields["face_confidence"].GetNumberValue(),
			Emotion:         make(map[string]float64),
		}
		for label, score := range fields["emotion"].GetStructValue().GetFields() {
			a.Emotion[label] = score.GetNumberValue()
		}
		out = append(out, a)
	}
	return out, nil
}

// Close closes the client connection
func (g *GRPCAnalyzer) Close() error {
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("close analyzer connection: %w", err)
	}
	g.logger.Info("Emotion analyzer client closed")
	return nil
}

var _ Analyzer = (*GRPCAnalyzer)(nil)
