package rpc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var _ detect.Detector = (*Client)(nil)

// Client 封装 gRPC 检测服务客户端，实现 detect.Detector
type Client struct {
	conn    *grpc.ClientConn
	quality int
}

// NewClient 创建检测客户端，连接是惰性的，健康检查在后台进行
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial detector %s: %w", addr, err)
	}
	c := &Client{conn: conn, quality: 85}

	go func() {
		if err := c.Check(context.Background()); err != nil {
			slog.Error("HealthCheck", "addr", addr, "err", err)
			return
		}
		slog.Info("HealthCheck OK", "addr", addr)
	}()
	return c, nil
}

// NewDetector 未配置地址时返回 NopDetector
func NewDetector(cfg conf.Detect) (detect.Detector, func(), error) {
	if cfg.Addr == "" {
		slog.Warn("detector address is empty, detection disabled")
		return detect.NopDetector{}, func() {}, nil
	}
	c, err := NewClient(cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

// Check 标准 gRPC 健康检查
func (c *Client) Check(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("detector not serving: %s", resp.GetStatus())
	}
	return nil
}

// Detect implements [detect.Detector].
func (c *Client) Detect(ctx context.Context, img image.Image, confidence float64) ([]detect.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	in := DetectRequest{
		Image:      buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Confidence: confidence,
	}
	var out DetectResponse
	if err := c.conn.Invoke(ctx, detectFullMethod, &in, &out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
