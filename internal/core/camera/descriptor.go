package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceKind 视频源类型
type SourceKind string

const (
	KindDevice SourceKind = "device" // 本地采集设备，按序号访问
	KindURL    SourceKind = "url"    // 网络流地址
)

// Descriptor 一个可尝试连接的视频源
type Descriptor struct {
	Kind  SourceKind `json:"kind"`
	Index int        `json:"index,omitempty"`
	URL   string     `json:"url,omitempty"`
}

func (d Descriptor) String() string {
	if d.Kind == KindDevice {
		return "device:" + strconv.Itoa(d.Index)
	}
	return d.URL
}

var streamSchemes = []string{"rtsp://", "rtsps://", "rtmp://", "http://", "https://"}

// 只给出 IP 时依次尝试的常见厂商路径，http 在前
var (
	httpPaths = []string{"/video.mjpg", "/mjpg/video.mjpg", "/stream"}
	rtspPaths = []string{"/live.sdp", "/stream1"}
)

// ResolveCandidates 将用户输入解析为按优先级排序的候选视频源
// 纯数字为本地设备；带协议前缀原样使用；四段点分 IPv4 展开为常见路径；其余原样作为 URL
func ResolveCandidates(input string) []Descriptor {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil
	}
	if isDigits(s) {
		idx, err := strconv.Atoi(s)
		if err == nil {
			return []Descriptor{{Kind: KindDevice, Index: idx}}
		}
	}

	lower := strings.ToLower(s)
	for _, scheme := range streamSchemes {
		if strings.HasPrefix(lower, scheme) {
			return []Descriptor{{Kind: KindURL, URL: s}}
		}
	}

	if isIPv4(s) {
		out := make([]Descriptor, 0, len(httpPaths)+len(rtspPaths))
		for _, p := range httpPaths {
			out = append(out, Descriptor{Kind: KindURL, URL: fmt.Sprintf("http://%s%s", s, p)})
		}
		for _, p := range rtspPaths {
			out = append(out, Descriptor{Kind: KindURL, URL: fmt.Sprintf("rtsp://%s%s", s, p)})
		}
		return out
	}

	return []Descriptor{{Kind: KindURL, URL: s}}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if !isDigits(p) {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
