package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
)

// Validator 提供输入与结构化响应的验证功能
type Validator struct{}

// NewValidator 创建新的验证器实例
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProfile 验证用户兴趣自述
func (v *Validator) ValidateProfile(profile string) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("%w: 用户兴趣自述不能为空", model.ErrConfig)
	}
	return nil
}

// ValidateCatalogFile 验证话题目录文件路径安全性
func (v *Validator) ValidateCatalogFile(filePath string) error {
	// 检查文件路径是否为空
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("%w: 话题目录文件路径不能为空", model.ErrConfig)
	}

	// 使用filepath.Clean清理路径
	cleanPath := filepath.Clean(filePath)

	// 检查路径是否包含目录遍历尝试
	if strings.Contains(cleanPath, "..") || strings.Contains(cleanPath, "~") {
		return fmt.Errorf("%w: 路径包含非法字符: %s", model.ErrConfig, cleanPath)
	}

	// 检查文件扩展名
	if !strings.HasSuffix(strings.ToLower(cleanPath), ".opml") {
		return fmt.Errorf("%w: 话题目录只允许OPML文件格式: %s", model.ErrConfig, cleanPath)
	}

	// 验证文件是否存在且为普通文件
	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("%w: 话题目录文件访问失败: %v", model.ErrConfig, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: 路径指向目录而非文件: %s", model.ErrConfig, cleanPath)
	}

	// 验证文件大小合理性（最大10MB限制）
	if info.Size() > 10*1024*1024 {
		return fmt.Errorf("%w: 话题目录文件过大(>10MB): %s", model.ErrConfig, cleanPath)
	}

	return nil
}

// FilterMatchedTopics 根据目录校验LLM返回的话题名。
// 返回按目录顺序排列的有效话题源；如果响应中出现目录外的话题名，
// 同时返回校验错误供调用方记录日志，目录外的话题被排除而非静默丢弃。
func (v *Validator) FilterMatchedTopics(matched []string, catalog []model.TopicSource) ([]model.TopicSource, error) {
	byName := make(map[string]model.TopicSource, len(catalog))
	for _, topic := range catalog {
		byName[topic.Name] = topic
	}

	selected := make(map[string]bool, len(matched))
	var unknown []string
	for _, name := range matched {
		name = strings.TrimSpace(name)
		if _, ok := byName[name]; ok {
			selected[name] = true
		} else if name != "" {
			unknown = append(unknown, name)
		}
	}

	// 保持目录中的原始顺序
	var result []model.TopicSource
	for _, topic := range catalog {
		if selected[topic.Name] {
			result = append(result, topic)
		}
	}

	if len(unknown) > 0 {
		return result, fmt.Errorf("%w: 响应包含目录外的话题: %s", model.ErrValidation, strings.Join(unknown, ", "))
	}
	return result, nil
}

// ValidateDialogue 验证对话脚本的结构：
// 台词序列非空，每句台词文本非空，说话人从提问者开始严格交替
func (v *Validator) ValidateDialogue(script model.DialogueScript) error {
	if len(script.Utterances) == 0 {
		return fmt.Errorf("%w: 对话脚本为空", model.ErrValidation)
	}

	for i, utterance := range script.Utterances {
		if strings.TrimSpace(utterance.Text) == "" {
			return fmt.Errorf("%w: 第%d句台词文本为空", model.ErrValidation, i+1)
		}

		expected := model.SpeakerQuestioner
		if i%2 == 1 {
			expected = model.SpeakerAnswerer
		}
		if utterance.Speaker != expected {
			return fmt.Errorf("%w: 第%d句台词说话人应为%s，实际为%s",
				model.ErrValidation, i+1, expected, utterance.Speaker)
		}
	}

	return nil
}

// GetAPIKey 安全获取OpenAI API密钥，优先从环境变量读取
func (v *Validator) GetAPIKey(config *model.OpenAIConfig) (string, error) {
	// 优先从环境变量获取
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		return apiKey, nil
	}

	// 检查配置文件中的API密钥
	if config == nil || config.APIKey == "" {
		return "", fmt.Errorf("%w: %v", model.ErrConfig,
			errors.New("未找到OpenAI API密钥配置，请设置环境变量: export OPENAI_API_KEY=your-key-here"))
	}

	// 检查是否为占位符
	if strings.Contains(config.APIKey, "****") {
		return "", fmt.Errorf("%w: 检测到占位符API密钥，请使用环境变量设置真实密钥", model.ErrConfig)
	}

	return config.APIKey, nil
}
