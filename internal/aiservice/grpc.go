package aiservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/vidsight/internal/aiservice"

// ServiceName is the fully qualified RPC service name of the media and
// analysis service. Requests and responses are protobuf Structs.
const ServiceName = "videoanalysis.VideoAnalysisService"

// RPC method names.
const (
	MethodGetVideoDuration  = "GetVideoDuration"
	MethodConcatVideos      = "ConcatVideos"
	MethodExtractSegment    = "ExtractSegment"
	MethodExtractTail       = "ExtractTail"
	MethodAnalyzeVideo      = "AnalyzeVideo"
	MethodGenerateTitle     = "GenerateTitle"
	MethodExtractUserMemory = "ExtractUserMemory"
)

// FullMethod returns the gRPC path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// GRPCConfig configures the RPC client.
type GRPCConfig struct {
	// Address is host:port of the service.
	Address string

	// MediaTimeout bounds each media operation. Default: 2 minutes.
	MediaTimeout time.Duration

	// TitleTimeout bounds title and memory generation. Default: 180 seconds.
	TitleTimeout time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 16MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *GRPCConfig) ApplyDefaults() {
	if c.MediaTimeout <= 0 {
		c.MediaTimeout = 2 * time.Minute
	}
	if c.TitleTimeout <= 0 {
		c.TitleTimeout = 180 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
}

// GRPCClient implements MediaProcessor, Analyzer and Summarizer over a
// single client connection.
type GRPCClient struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	config GRPCConfig
	logger *logging.Logger
	tracer trace.Tracer
}

var (
	_ MediaProcessor = (*GRPCClient)(nil)
	_ Analyzer       = (*GRPCClient)(nil)
	_ Summarizer     = (*GRPCClient)(nil)
)

// NewGRPCClient creates a client for cfg.Address. The connection is
// established lazily on the first call.
func NewGRPCClient(cfg GRPCConfig, logger *logging.Logger) (*GRPCClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	cfg.ApplyDefaults()

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai service client: %w", err)
	}
	c := NewGRPCClientWithConn(conn, cfg, logger)
	c.closer = conn
	return c, nil
}

// NewGRPCClientWithConn wraps an existing connection. The caller owns it.
func NewGRPCClientWithConn(conn grpc.ClientConnInterface, cfg GRPCConfig, logger *logging.Logger) *GRPCClient {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GRPCClient{
		conn:   conn,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
}

// Close releases the connection if the client created it.
func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// invoke performs one unary call and returns the response fields. A
// non-empty "error" field in the response is turned into an error.
func (c *GRPCClient) invoke(ctx context.Context, method string, timeout time.Duration, req map[string]any) (map[string]*structpb.Value, error) {
	ctx, span := c.tracer.Start(ctx, "aiservice."+method)
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rpc failed")
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	fields := out.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		err := fmt.Errorf("%s: %w: %s", method, ErrRemote, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}
	return fields, nil
}

func (c *GRPCClient) GetDuration(ctx context.Context, path string) (float64, error) {
	fields, err := c.invoke(ctx, MethodGetVideoDuration, c.config.MediaTimeout, map[string]any{
		"video_path": path,
	})
	if err != nil {
		return 0, err
	}
	d, ok := fields["duration"]
	if !ok {
		return 0, fmt.Errorf("%s: response has no duration", MethodGetVideoDuration)
	}
	c.logger.Debug(ctx, "probed video duration", zap.String("path", path), zap.Float64("duration", d.GetNumberValue()))
	return d.GetNumberValue(), nil
}

func (c *GRPCClient) Concat(ctx context.Context, paths []string, out string) (string, error) {
	list := make([]any, len(paths))
	for i, p := range paths {
		list[i] = p
	}
	fields, err := c.invoke(ctx, MethodConcatVideos, c.config.MediaTimeout, map[string]any{
		"video_paths": list,
		"output_path": out,
	})
	if err != nil {
		return "", err
	}
	return outputPath(fields, out), nil
}

func (c *GRPCClient) ExtractSegment(ctx context.Context, in, out string, start, end float64) (string, error) {
	fields, err := c.invoke(ctx, MethodExtractSegment, c.config.MediaTimeout, map[string]any{
		"video_path":  in,
		"output_path": out,
		"start_time":  start,
		"end_time":    end,
	})
	if err != nil {
		return "", err
	}
	return outputPath(fields, out), nil
}

func (c *GRPCClient) ExtractTail(ctx context.Context, in, out string, duration float64) (string, error) {
	fields, err := c.invoke(ctx, MethodExtractTail, c.config.MediaTimeout, map[string]any{
		"video_path":  in,
		"output_path": out,
		"duration":    duration,
	})
	if err != nil {
		return "", err
	}
	return outputPath(fields, out), nil
}

func outputPath(fields map[string]*structpb.Value, fallback string) string {
	if p := fields["output_path"].GetStringValue(); p != "" {
		return p
	}
	return fallback
}

// Analyze opens the AnalyzeVideo server stream. Each response carries
// "content", "is_final" and optionally "error"; an error field ends the
// stream with ErrRemote.
func (c *GRPCClient) Analyze(ctx context.Context, req AnalyzeRequest) (*Stream, error) {
	in, err := structpb.NewStruct(map[string]any{
		"session_id":    req.SessionID,
		"window_index":  req.WindowIndex,
		"video_url":     req.VideoURL,
		"ai_model":      req.Model,
		"context":       req.Context,
		"start_offset":  req.StartOffset,
		"end_offset":    req.EndOffset,
		"analysis_mode": req.Mode,
		"user_memory":   req.UserMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", MethodAnalyzeVideo, err)
	}

	return NewStream(ctx, func(ctx context.Context, emit Emitter) error {
		ctx, span := c.tracer.Start(ctx, "aiservice."+MethodAnalyzeVideo, trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("window.index", req.WindowIndex),
		))
		defer span.End()

		err := c.analyze(ctx, in, emit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis failed")
		}
		return err
	}), nil
}

func (c *GRPCClient) analyze(ctx context.Context, in *structpb.Struct, emit Emitter) error {
	desc := &grpc.StreamDesc{StreamName: MethodAnalyzeVideo, ServerStreams: true}
	cs, err := c.conn.NewStream(ctx, desc, FullMethod(MethodAnalyzeVideo))
	if err != nil {
		return fmt.Errorf("%s: open stream: %w", MethodAnalyzeVideo, err)
	}
	if err := cs.SendMsg(in); err != nil {
		return fmt.Errorf("%s: send: %w", MethodAnalyzeVideo, err)
	}
	if err := cs.CloseSend(); err != nil {
		return fmt.Errorf("%s: close send: %w", MethodAnalyzeVideo, err)
	}

	for {
		out := &structpb.Struct{}
		err := cs.RecvMsg(out)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: recv: %w", MethodAnalyzeVideo, err)
		}
		fields := out.GetFields()
		if msg := fields["error"].GetStringValue(); msg != "" {
			return fmt.Errorf("%s: %w: %s", MethodAnalyzeVideo, ErrRemote, msg)
		}
		if err := emit(Delta{
			Content: fields["content"].GetStringValue(),
			Final:   fields["is_final"].GetBoolValue(),
		}); err != nil {
			return err
		}
	}
}

func (c *GRPCClient) GenerateTitle(ctx context.Context, req SummaryRequest) (string, error) {
	fields, err := c.invoke(ctx, MethodGenerateTitle, c.config.TitleTimeout, map[string]any{
		"session_id":       req.SessionID,
		"analysis_results": stringList(req.Results),
		"user_memory":      req.UserMemory,
		"ai_model":         req.Model,
	})
	if err != nil {
		return "", err
	}
	return fields["title"].GetStringValue(), nil
}

func (c *GRPCClient) ExtractUserMemory(ctx context.Context, req SummaryRequest) (string, error) {
	current := req.UserMemory
	if current == "" {
		current = "{}"
	}
	fields, err := c.invoke(ctx, MethodExtractUserMemory, c.config.TitleTimeout, map[string]any{
		"session_id":       req.SessionID,
		"analysis_results": stringList(req.Results),
		"current_memory":   current,
		"ai_model":         req.Model,
	})
	if err != nil {
		return "", err
	}
	return fields["new_memory"].GetStringValue(), nil
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
