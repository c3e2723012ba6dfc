package model

// ProcessParams 包含新闻播客生成的所有参数
type ProcessParams struct {
	Profile      string       // 用户兴趣自述文本
	CatalogFile  string       // 话题目录OPML文件路径
	StoreFile    string       // 新闻数据JSON文件路径
	OpenAIConfig OpenAIConfig // OpenAI API配置
	NewsConfig   NewsConfig   // 新闻抓取配置
	AudioConfig  AudioConfig  // 音频输出配置
	Pricing      Pricing      // 成本估算单价
}

// OpenAIConfig 包含OpenAI API的配置信息
type OpenAIConfig struct {
	APIKey          string // API密钥
	APIBase         string // API接口地址，为空时使用官方默认值
	ChatModel       string // 对话补全模型名称
	TTSModel        string // 语音合成模型名称
	QuestionerVoice string // 提问者音色
	AnswererVoice   string // 回答者音色
	MaxTokens       int    // 单次调用最大令牌数
	MaxCalls        int    // 单次运行最大调用次数
	MaxUtterances   int    // 对话脚本最大台词数
	APITimeout      int    // API超时时间（秒）
}

// NewsConfig 包含新闻抓取的配置信息
type NewsConfig struct {
	MaxTopics        int // 最多匹配的话题数
	MaxPerTopic      int // 每个话题最多处理的文章数
	Timeout          int // 单次请求超时时间（秒）
	Concurrency      int // 并发数量
	MaxRetries       int // 最大重试次数
	RetryBackoffBase int // 重试退避基数（秒）
	OverallTimeout   int // 整体超时时间（秒）
}

// AudioConfig 包含音频输出的配置信息
type AudioConfig struct {
	OutputDir   string // 音频输出目录
	SilenceFile string // 静音间隔素材文件名（位于输出目录下）
}

// Pricing 包含成本估算的单价信息（美元）
type Pricing struct {
	InputPerMTok  float64 // 每百万输入令牌单价
	OutputPerMTok float64 // 每百万输出令牌单价
	AudioPerMChar float64 // 每百万语音字符单价
}

// TopicSource 表示话题目录中的一个话题及其新闻源
type TopicSource struct {
	Name    string // 话题名称
	FeedUrl string // Google News话题feed地址
}

// Article 表示一篇待处理的新闻文章
type Article struct {
	ID          string `json:"id"`           // 运行内唯一标识，用于命名音频文件
	Topic       string `json:"topic"`        // 所属话题
	Title       string `json:"title"`        // 文章标题
	Link        string `json:"url"`          // 文章链接
	PublishDate string `json:"published_at"` // 发布日期
	FullText    string `json:"full_text"`    // 提取后的完整正文，提取失败时为空
}

// Speaker 表示对话中的说话人角色
type Speaker string

const (
	// SpeakerQuestioner 提问者
	SpeakerQuestioner Speaker = "questioner"
	// SpeakerAnswerer 回答者
	SpeakerAnswerer Speaker = "answerer"
)

// Utterance 表示对话中的一句台词
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// DialogueScript 表示一篇文章对应的双人问答对话脚本
// 约束：台词非空，说话人从提问者开始严格交替
type DialogueScript struct {
	ArticleID           string      `json:"article_id"`
	Utterances          []Utterance `json:"utterances"`
	QuestionerToneStyle string      `json:"questioner_tone_style"`
	AnswererToneStyle   string      `json:"answerer_tone_style"`
}

// NewsRecord 表示持久化到NewsStore中的一条完整记录
type NewsRecord struct {
	Article
	Dialogue            []Utterance `json:"dialogue"`
	QuestionerToneStyle string      `json:"questioner_tone_style"`
	AnswererToneStyle   string      `json:"answerer_tone_style"`
	AudioFile           string      `json:"audio_file,omitempty"`
}

// UsageSummary 表示用量计数汇总
type UsageSummary struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	AudioChars   int64 `json:"audio_characters"`
}
