package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
)

// Combiner 负责将逐句语音片段与静音间隔拼接为单篇文章的音频文件。
// 输出文件按文章ID命名，ID在运行内唯一，因此不会覆盖其他文章的产物。
type Combiner struct {
	outputDir   string
	silenceFile string
}

// NewCombiner 创建新的音频拼接器
func NewCombiner(config model.AudioConfig) *Combiner {
	outputDir := config.OutputDir
	if outputDir == "" {
		outputDir = "speech_files"
	}
	silenceFile := config.SilenceFile
	if silenceFile == "" {
		silenceFile = "silent.mp3"
	}

	return &Combiner{
		outputDir:   outputDir,
		silenceFile: silenceFile,
	}
}

// CheckSilenceAsset 检查静音间隔素材是否存在。
// 素材是所有文章共享的前置条件，缺失时整个运行中止。
func (c *Combiner) CheckSilenceAsset() error {
	silencePath := filepath.Join(c.outputDir, c.silenceFile)
	info, err := os.Stat(silencePath)
	if err != nil {
		return fmt.Errorf("%w: 静音素材不存在: %s", model.ErrIO, silencePath)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: 静音素材不可用: %s", model.ErrIO, silencePath)
	}
	return nil
}

// WriteSegment 将一句台词的音频数据写入片段文件，
// 片段按<文章ID>_<序号>.mp3命名，拼接完成后清理
func (c *Combiner) WriteSegment(articleID string, index int, data []byte) (string, error) {
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: 创建音频输出目录失败: %v", model.ErrIO, err)
	}

	segmentPath := filepath.Join(c.outputDir, fmt.Sprintf("%s_%d.mp3", articleID, index))
	if err := os.WriteFile(segmentPath, data, 0644); err != nil {
		return "", fmt.Errorf("%w: 写入音频片段失败: %v", model.ErrIO, err)
	}

	logger.Debug("音频片段写入完成", "path", segmentPath, "bytes", len(data))
	return segmentPath, nil
}

// Combine 按脚本顺序拼接片段文件，在相邻片段之间插入静音间隔，
// 输出<文章ID>.mp3。成功后清理片段文件。
func (c *Combiner) Combine(articleID string, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: 没有可拼接的音频片段", model.ErrIO)
	}

	silencePath := filepath.Join(c.outputDir, c.silenceFile)
	silenceData, err := os.ReadFile(silencePath)
	if err != nil {
		return "", fmt.Errorf("%w: 读取静音素材失败: %v", model.ErrIO, err)
	}

	outputPath := filepath.Join(c.outputDir, articleID+".mp3")
	logger.Info("开始拼接音频", "article_id", articleID, "segments_count", len(segments), "output", outputPath)

	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("%w: 创建输出文件失败: %v", model.ErrIO, err)
	}
	defer out.Close()

	for i, segment := range segments {
		data, err := os.ReadFile(segment)
		if err != nil {
			os.Remove(outputPath)
			return "", fmt.Errorf("%w: 读取音频片段失败: %v", model.ErrIO, err)
		}

		if _, err := out.Write(data); err != nil {
			os.Remove(outputPath)
			return "", fmt.Errorf("%w: 写入输出文件失败: %v", model.ErrIO, err)
		}

		// 相邻片段之间插入静音间隔，只增不减
		if i < len(segments)-1 {
			if _, err := out.Write(silenceData); err != nil {
				os.Remove(outputPath)
				return "", fmt.Errorf("%w: 写入静音间隔失败: %v", model.ErrIO, err)
			}
		}
	}

	// 拼接成功后清理片段文件
	c.Cleanup(segments)

	logger.Info("音频拼接完成", "article_id", articleID, "output", outputPath)
	return outputPath, nil
}

// Cleanup 清理临时片段文件
func (c *Combiner) Cleanup(segments []string) {
	for _, segment := range segments {
		if err := os.Remove(segment); err != nil && !os.IsNotExist(err) {
			logger.Warn("清理音频片段失败", "path", segment, "error", err)
		}
	}
}
