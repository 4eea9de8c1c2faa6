package ffwork

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// StreamInfo ffprobe 得到的视频流参数
type StreamInfo struct {
	Width, Height int
	FPS           float64
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		AvgFPS     string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe 探测输入的分辨率与帧率
func Probe(ctx context.Context, input, format string) (*StreamInfo, error) {
	args := []string{"-v", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate",
		"-of", "json",
		input,
	)
	b, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	return parseProbe(b)
}

func parseProbe(b []byte) (*StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]
	fps := ParseRate(s.AvgFPS)
	if fps <= 0 {
		fps = ParseRate(s.RFrameRate)
	}
	return &StreamInfo{Width: s.Width, Height: s.Height, FPS: fps}, nil
}

// ParseRate 解析 "30000/1001" 或 "25" 形式的帧率，无法解析返回 0
func ParseRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
