package ai

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/domain/service"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
)

const (
	// defaultMaxTopics 话题匹配默认返回的最大话题数
	defaultMaxTopics = 3
	// defaultMaxUtterances 对话脚本默认的最大台词数，用于控制音频长度和成本
	defaultMaxUtterances = 12
	// maxExtractInput 正文提取输入的最大字符数
	maxExtractInput = 20000
)

// OpenAIClient 实现service.AIClient接口，
// 覆盖话题匹配、正文提取、对话生成和语音合成
type OpenAIClient struct {
	config model.OpenAIConfig
	client *openai.Client
	ledger *service.UsageLedger

	mu       sync.Mutex
	rateInfo service.RateLimit
}

// NewOpenAIClient 创建新的OpenAI客户端。
// 用量累加器由调用方显式传入，每次API调用后记录上游报告的用量。
func NewOpenAIClient(config model.OpenAIConfig, ledger *service.UsageLedger) *OpenAIClient {
	timeout := 60
	if config.APITimeout > 0 {
		timeout = config.APITimeout
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.APIBase != "" {
		clientConfig.BaseURL = config.APIBase
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: time.Duration(timeout) * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		ledger: ledger,
		rateInfo: service.RateLimit{
			MaxCalls:  config.MaxCalls,
			Remaining: config.MaxCalls,
			ResetTime: time.Now().Add(24 * time.Hour),
		},
	}
}

// beginCall 增加调用计数并检查调用次数上限
func (c *OpenAIClient) beginCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxCalls > 0 && c.rateInfo.CurrentCalls >= c.config.MaxCalls {
		return fmt.Errorf("%w: 已达到API调用次数上限: %d/%d",
			model.ErrUpstream, c.rateInfo.CurrentCalls, c.config.MaxCalls)
	}

	c.rateInfo.CurrentCalls++
	c.rateInfo.Remaining = c.config.MaxCalls - c.rateInfo.CurrentCalls
	return nil
}

// GetRateLimits 返回当前调用限制信息
func (c *OpenAIClient) GetRateLimits() service.RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateInfo
}

// chat 调用对话补全接口并记录用量，带指数退避重试。
// jsonResponse为true时要求模型返回JSON对象。
func (c *OpenAIClient) chat(ctx context.Context, systemPrompt, userPrompt string, jsonResponse bool) (string, error) {
	if err := c.beginCall(); err != nil {
		return "", err
	}

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    c.config.ChatModel,
		Messages: messages,
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if jsonResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	maxRetries := 3
	baseDelay := time.Second
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			backoff := time.Duration(exponentialBackoff(attempt, baseDelay)) * time.Millisecond
			logger.Info("调用失败后等待重试", "attempt", attempt, "backoff_ms", backoff.Milliseconds())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", model.ErrUpstream, ctx.Err())
			}
		}

		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if isRetryableError(err) && attempt < maxRetries-1 {
				continue
			}
			return "", fmt.Errorf("%w: %v", model.ErrUpstream, err)
		}

		// 记录上游报告的用量
		c.ledger.Record(service.UsageInputTokens, int64(resp.Usage.PromptTokens))
		c.ledger.Record(service.UsageOutputTokens, int64(resp.Usage.CompletionTokens))

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: 响应不包含有效内容", model.ErrUpstream)
		}

		logger.Info("对话补全调用成功",
			"model", c.config.ChatModel,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"duration_ms", time.Since(start).Milliseconds())

		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("%w: API调用失败，已重试%d次: %v", model.ErrUpstream, maxRetries, lastErr)
}

// MatchTopics 根据用户自述从候选话题名中选出匹配的话题名
func (c *OpenAIClient) MatchTopics(ctx context.Context, profile string, topics []string) ([]string, error) {
	systemPrompt := fmt.Sprintf(`You are a news assistant that finds the topics a user will be interested in based on their introduction.
If a topic is not in the list, find a similar topic in the list.
Return a maximum of %d topics.
The topics must exist in the following list: %s
Return valid JSON strictly in this format: {"topics": ["Topic Name"]}`,
		defaultMaxTopics, strings.Join(topics, ", "))

	userPrompt := fmt.Sprintf("User introduction: %s", profile)

	content, err := c.chat(ctx, systemPrompt, userPrompt, true)
	if err != nil {
		return nil, fmt.Errorf("话题匹配失败: %w", err)
	}

	matched, err := parseTopicsResponse(content)
	if err != nil {
		return nil, fmt.Errorf("话题匹配失败: %w", err)
	}

	logger.Info("话题匹配完成", "matched_count", len(matched), "topics", matched)
	return matched, nil
}

// parseTopicsResponse 解析话题匹配响应
func parseTopicsResponse(content string) ([]string, error) {
	var response struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &response); err != nil {
		return nil, fmt.Errorf("%w: 解析话题响应失败: %v", model.ErrValidation, err)
	}
	return response.Topics, nil
}

// ExtractArticle 根据抓取到的网页文本提取完整的文章正文。
// 模型返回空内容时不视为错误，由调用方将该文章标记为正文缺失。
func (c *OpenAIClient) ExtractArticle(ctx context.Context, title, pageText string) (string, error) {
	if len([]rune(pageText)) > maxExtractInput {
		pageText = string([]rune(pageText)[:maxExtractInput])
	}

	systemPrompt := `You extract news article bodies from raw page text.
Return only the article text, do not add extra commentary.
If the text contains no readable article body, return an empty response.`

	userPrompt := fmt.Sprintf("Title: %s\n\nPage text:\n%s", title, pageText)

	content, err := c.chat(ctx, systemPrompt, userPrompt, false)
	if err != nil {
		return "", fmt.Errorf("正文提取失败: %w", err)
	}

	content = strings.TrimSpace(content)
	logger.Info("正文提取完成", "title", title, "text_length", len(content))
	return content, nil
}

// GenerateDialogue 根据文章正文生成双人问答对话脚本
func (c *OpenAIClient) GenerateDialogue(ctx context.Context, article model.Article) (model.DialogueScript, error) {
	maxUtterances := defaultMaxUtterances
	if c.config.MaxUtterances > 0 {
		maxUtterances = c.config.MaxUtterances
	}

	systemPrompt := fmt.Sprintf(`You are a creative news storyteller who turns plain news articles into bold, attention-grabbing dialogues.
Transform the article into a conversation between two fictional characters:
- The questioner reacts to the news with excitement, confusion, sarcasm or curiosity.
- The answerer provides colorful, vivid explanations, background and takes.
Pick an engaging style each time (dramatic, witty, over-the-top, sci-fi, meme talk...) and describe each speaker's tone.
Start with a hook, go back and forth in Q&A format, end with a punchline.
Use at most %d lines in total. Lines must strictly alternate, starting with the questioner.
Return valid JSON strictly in this format:
{
    "dialogue": [
        {"speaker": "questioner", "text": "First line (reaction or question)"},
        {"speaker": "answerer", "text": "Reply with explanation in engaging style"}
    ],
    "questioner_tone_style": "Describe how the questioner speaks",
    "answerer_tone_style": "Describe how the answerer speaks"
}`, maxUtterances)

	content, err := c.chat(ctx, systemPrompt, article.FullText, true)
	if err != nil {
		return model.DialogueScript{}, fmt.Errorf("对话生成失败: %w", err)
	}

	script, err := parseDialogueResponse(content)
	if err != nil {
		return model.DialogueScript{}, fmt.Errorf("对话生成失败: %w", err)
	}
	script.ArticleID = article.ID

	logger.Info("对话生成完成", "article_id", article.ID, "utterances_count", len(script.Utterances))
	return script, nil
}

// parseDialogueResponse 解析对话生成响应为脚本结构。
// 只做形状解析，交替性等约束由验证器在边界处拒绝（不做修复）。
func parseDialogueResponse(content string) (model.DialogueScript, error) {
	var response struct {
		Dialogue []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"dialogue"`
		QuestionerToneStyle string `json:"questioner_tone_style"`
		AnswererToneStyle   string `json:"answerer_tone_style"`
	}

	if err := json.Unmarshal([]byte(stripJSONFences(content)), &response); err != nil {
		return model.DialogueScript{}, fmt.Errorf("%w: 解析对话响应失败: %v", model.ErrValidation, err)
	}

	script := model.DialogueScript{
		QuestionerToneStyle: response.QuestionerToneStyle,
		AnswererToneStyle:   response.AnswererToneStyle,
	}

	for i, line := range response.Dialogue {
		speaker := model.Speaker(strings.ToLower(strings.TrimSpace(line.Speaker)))
		if speaker != model.SpeakerQuestioner && speaker != model.SpeakerAnswerer {
			return model.DialogueScript{}, fmt.Errorf("%w: 第%d句台词说话人非法: %q",
				model.ErrValidation, i+1, line.Speaker)
		}
		script.Utterances = append(script.Utterances, model.Utterance{
			Speaker: speaker,
			Text:    line.Text,
		})
	}

	return script, nil
}

// stripJSONFences 去除模型偶尔附带的markdown代码围栏
func stripJSONFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// SynthesizeSpeech 将一句台词合成为语音，返回音频数据。
// 语音字符数在合成成功后计入用量累加器。
func (c *OpenAIClient) SynthesizeSpeech(ctx context.Context, text, voice, instructions string) ([]byte, error) {
	if err := c.beginCall(); err != nil {
		return nil, err
	}

	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.config.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		Instructions:   instructions,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	}

	start := time.Now()
	resp, err := c.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: 语音合成失败: %v", model.ErrUpstream, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取语音数据失败: %v", model.ErrUpstream, err)
	}

	c.ledger.Record(service.UsageAudioChars, int64(len([]rune(text))))

	logger.Debug("语音合成完成",
		"voice", voice,
		"text_length", len([]rune(text)),
		"audio_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())

	return data, nil
}

// exponentialBackoff 指数退避计算，返回毫秒数
func exponentialBackoff(attempt int, baseDelay time.Duration) int64 {
	if attempt == 0 {
		return 0
	}

	// 指数退避 + 随机抖动
	base := float64(baseDelay.Milliseconds())
	exponential := base * float64(int64(1)<<attempt)

	maxJitter := exponential * 0.1
	jitter, _ := rand.Int(rand.Reader, big.NewInt(int64(maxJitter)+1))

	delay := int64(exponential) + jitter.Int64()

	// 限制最大退避时间为5分钟
	maxDelay := 5 * time.Minute.Milliseconds()
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	retryableKeywords := []string{
		"timeout",
		"connection",
		"reset",
		"unreachable",
		"temporary",
		"503",
		"429",
		"502",
		"504",
	}

	msg := err.Error()
	for _, keyword := range retryableKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
