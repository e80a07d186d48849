package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegAvailable 检查 PATH 中是否有 ffmpeg
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// NormalizeImage 把图片缩放到 size 像素以内并转成 JPEG，保持宽高比
func NormalizeImage(srcPath, dstPath string, size int) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %v", err)
	}

	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", size, size)
	return ffmpeg.Input(srcPath).
		Output(dstPath, ffmpeg.KwArgs{
			"vf":      scale,
			"vframes": "1",
			"q:v":     "3", // JPEG 质量 (2-31, 越小质量越高)
		}).
		OverWriteOutput().
		Run()
}
