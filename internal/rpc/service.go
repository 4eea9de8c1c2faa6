package rpc

import (
	"context"

	"github.com/gowvp/thermalstream/internal/core/detect"
	"google.golang.org/grpc"
)

const (
	serviceName      = "thermalstream.detector.v1.Detector"
	detectFullMethod = "/" + serviceName + "/Detect"
)

// DetectRequest 一帧 JPEG 图像
type DetectRequest struct {
	Image      []byte  `json:"image"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// DetectResponse 检测结果，坐标为原图像素
type DetectResponse struct {
	Detections []detect.Detection `json:"detections"`
	Elapsed    float64            `json:"elapsed_ms"`
}

// DetectorServer 检测服务端
type DetectorServer interface {
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
}

// RegisterDetectorServer 注册检测服务
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&detectorServiceDesc, srv)
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: detectFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectorServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var detectorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "detector.proto",
}
