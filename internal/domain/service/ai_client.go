package service

import (
	"context"
	"time"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
)

// AIClient 定义LLM协作方客户端接口，
// 覆盖话题匹配、正文提取、对话生成和语音合成四种能力
type AIClient interface {
	// MatchTopics 根据用户自述从候选话题名中选出匹配的话题名
	MatchTopics(ctx context.Context, profile string, topics []string) ([]string, error)
	// ExtractArticle 根据抓取到的网页文本提取完整的文章正文
	ExtractArticle(ctx context.Context, title, pageText string) (string, error)
	// GenerateDialogue 根据文章正文生成双人问答对话脚本
	GenerateDialogue(ctx context.Context, article model.Article) (model.DialogueScript, error)
	// SynthesizeSpeech 将一句台词合成为语音，返回音频数据
	SynthesizeSpeech(ctx context.Context, text, voice, instructions string) ([]byte, error)
	// GetRateLimits 获取API调用限制信息
	GetRateLimits() RateLimit
}

// RateLimit 定义API调用限制信息
type RateLimit struct {
	MaxCalls     int
	CurrentCalls int
	Remaining    int
	ResetTime    time.Time
}
