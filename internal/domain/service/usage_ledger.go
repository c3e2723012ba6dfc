package service

import (
	"sync"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
)

// UsageKind 表示用量计数的类别
type UsageKind int

const (
	// UsageInputTokens 输入令牌数
	UsageInputTokens UsageKind = iota
	// UsageOutputTokens 输出令牌数
	UsageOutputTokens
	// UsageAudioChars 语音合成字符数
	UsageAudioChars
)

// UsageLedger 进程级用量累加器。
// 显式传入各协作方客户端而非使用全局变量，
// 加锁以支持文章级并发处理共用同一实例。
// 仅在进程启动时重置，运行结束后读取一次用于成本估算。
type UsageLedger struct {
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	audioChars   int64
}

// NewUsageLedger 创建一个新的用量累加器
func NewUsageLedger() *UsageLedger {
	return &UsageLedger{}
}

// Record 记录一次用量。每次LLM调用后都应记录，
// 包括失败但上游已报告部分用量的调用。非正数量被忽略。
func (l *UsageLedger) Record(kind UsageKind, amount int64) {
	if amount <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case UsageInputTokens:
		l.inputTokens += amount
	case UsageOutputTokens:
		l.outputTokens += amount
	case UsageAudioChars:
		l.audioChars += amount
	}
}

// Summary 返回当前用量汇总
func (l *UsageLedger) Summary() model.UsageSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	return model.UsageSummary{
		InputTokens:  l.inputTokens,
		OutputTokens: l.outputTokens,
		AudioChars:   l.audioChars,
	}
}

// EstimateCost 根据单价估算本次运行的成本（美元）
func (l *UsageLedger) EstimateCost(pricing model.Pricing) float64 {
	summary := l.Summary()

	const million = 1_000_000
	cost := float64(summary.InputTokens) / million * pricing.InputPerMTok
	cost += float64(summary.OutputTokens) / million * pricing.OutputPerMTok
	cost += float64(summary.AudioChars) / million * pricing.AudioPerMChar
	return cost
}
