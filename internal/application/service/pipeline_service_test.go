package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/domain/service"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/store"
)

// fakeAIClient 实现service.AIClient接口，按预设行为响应
type fakeAIClient struct {
	matchedTopics []string
	extractFail   map[string]bool // 按标题标记正文提取失败
	badDialogue   map[string]bool // 按文章ID标记返回非法对话
	ledger        *service.UsageLedger
}

func (f *fakeAIClient) MatchTopics(ctx context.Context, profile string, topics []string) ([]string, error) {
	f.ledger.Record(service.UsageInputTokens, 10)
	f.ledger.Record(service.UsageOutputTokens, 5)
	return f.matchedTopics, nil
}

func (f *fakeAIClient) ExtractArticle(ctx context.Context, title, pageText string) (string, error) {
	if f.extractFail[title] {
		return "", nil
	}
	f.ledger.Record(service.UsageInputTokens, 100)
	f.ledger.Record(service.UsageOutputTokens, 80)
	return "正文: " + title, nil
}

func (f *fakeAIClient) GenerateDialogue(ctx context.Context, article model.Article) (model.DialogueScript, error) {
	f.ledger.Record(service.UsageInputTokens, 80)
	f.ledger.Record(service.UsageOutputTokens, 60)

	script := model.DialogueScript{
		ArticleID:           article.ID,
		QuestionerToneStyle: "curious",
		AnswererToneStyle:   "calm",
	}

	if f.badDialogue[article.ID] {
		// 连续同一说话人，校验应拒绝
		script.Utterances = []model.Utterance{
			{Speaker: model.SpeakerQuestioner, Text: "one"},
			{Speaker: model.SpeakerQuestioner, Text: "two"},
		}
		return script, nil
	}

	script.Utterances = []model.Utterance{
		{Speaker: model.SpeakerQuestioner, Text: "What happened with " + article.Title + "?"},
		{Speaker: model.SpeakerAnswerer, Text: "Let me tell you."},
		{Speaker: model.SpeakerQuestioner, Text: "And then?"},
		{Speaker: model.SpeakerAnswerer, Text: "That was it."},
	}
	return script, nil
}

func (f *fakeAIClient) SynthesizeSpeech(ctx context.Context, text, voice, instructions string) ([]byte, error) {
	f.ledger.Record(service.UsageAudioChars, int64(len([]rune(text))))
	return []byte("audio:" + voice + ":" + text), nil
}

func (f *fakeAIClient) GetRateLimits() service.RateLimit {
	return service.RateLimit{}
}

// fakeNewsService 实现service.NewsService接口，返回预设的文章
type fakeNewsService struct {
	catalog   []model.TopicSource
	perTopic  map[string][]model.Article
	pageFail  map[string]bool // 按链接标记页面抓取失败
	idCounter int
}

func (f *fakeNewsService) ParseCatalog(catalogFile string) ([]model.TopicSource, error) {
	return f.catalog, nil
}

func (f *fakeNewsService) FetchHeadlines(topics []model.TopicSource, config model.NewsConfig) ([]model.Article, error) {
	var articles []model.Article
	for _, topic := range topics {
		for _, article := range f.perTopic[topic.Name] {
			f.idCounter++
			article.ID = fmt.Sprintf("article-%d", f.idCounter)
			article.Topic = topic.Name
			articles = append(articles, article)
		}
	}
	return articles, nil
}

func (f *fakeNewsService) FetchPageText(ctx context.Context, pageURL string, timeout int) (string, error) {
	if f.pageFail[pageURL] {
		return "", fmt.Errorf("%w: 抓取页面失败", model.ErrUpstream)
	}
	return "page text for " + pageURL, nil
}

// newTestParams 准备流水线运行所需的磁盘前置条件：话题目录文件和静音素材
func newTestParams(t *testing.T) model.ProcessParams {
	t.Helper()

	dir := t.TempDir()

	catalogFile := filepath.Join(dir, "topics.opml")
	require.NoError(t, os.WriteFile(catalogFile, []byte("<opml/>"), 0644))

	audioDir := filepath.Join(dir, "speech_files")
	require.NoError(t, os.MkdirAll(audioDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(audioDir, "silent.mp3"), []byte("SILENCE"), 0644))

	return model.ProcessParams{
		Profile:     "I'm interested in technology and sports",
		CatalogFile: catalogFile,
		StoreFile:   filepath.Join(dir, "news.json"),
		OpenAIConfig: model.OpenAIConfig{
			QuestionerVoice: "sage",
			AnswererVoice:   "alloy",
		},
		NewsConfig: model.NewsConfig{
			MaxTopics:   3,
			MaxPerTopic: 1,
			Concurrency: 2,
		},
		AudioConfig: model.AudioConfig{
			OutputDir:   audioDir,
			SilenceFile: "silent.mp3",
		},
	}
}

func defaultCatalog() []model.TopicSource {
	return []model.TopicSource{
		{Name: "Technology", FeedUrl: "https://example.com/tech"},
		{Name: "Sports", FeedUrl: "https://example.com/sports"},
		{Name: "Health", FeedUrl: "https://example.com/health"},
	}
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology", "Sports"},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1", PublishDate: "2026-08-25T10:00:00Z"}},
			"Sports":     {{Title: "Sports Story", Link: "https://example.com/s1", PublishDate: "2026-08-25T09:00:00Z"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// 记录保持话题顺序，携带对话和语气风格
	assert.Equal(t, "Technology", records[0].Topic)
	assert.Equal(t, "Sports", records[1].Topic)
	for _, record := range records {
		assert.NotEmpty(t, record.ID)
		assert.NotEmpty(t, record.FullText)
		require.Len(t, record.Dialogue, 4)
		assert.Equal(t, "curious", record.QuestionerToneStyle)
		assert.Equal(t, "calm", record.AnswererToneStyle)

		// 每篇文章输出一个以文章ID命名的音频文件
		expectedAudio := filepath.Join(params.AudioConfig.OutputDir, record.ID+".mp3")
		assert.Equal(t, expectedAudio, record.AudioFile)
		_, statErr := os.Stat(expectedAudio)
		require.NoError(t, statErr)

		// 片段文件已清理
		_, statErr = os.Stat(filepath.Join(params.AudioConfig.OutputDir, record.ID+"_0.mp3"))
		assert.True(t, os.IsNotExist(statErr))
	}

	// 全部记录持久化到JSON文件
	loaded, err := store.NewJSONNewsStore(params.StoreFile).Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)

	// 用量计数非负且已累计
	summary := ledger.Summary()
	assert.Positive(t, summary.InputTokens)
	assert.Positive(t, summary.OutputTokens)
	assert.Positive(t, summary.AudioChars)
}

func TestPipelineSkipsArticleWithoutContent(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology", "Sports", "Health"},
		extractFail:   map[string]bool{"Sports Story": true},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
			"Sports":     {{Title: "Sports Story", Link: "https://example.com/s1"}},
			"Health":     {{Title: "Health Story", Link: "https://example.com/h1"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)

	// 正文缺失的文章被跳过，其余文章不受影响
	require.Len(t, records, 2)
	assert.Equal(t, "Tech Story", records[0].Title)
	assert.Equal(t, "Health Story", records[1].Title)
}

func TestPipelineSkipsArticleOnPageFetchFailure(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology", "Sports"},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
			"Sports":     {{Title: "Sports Story", Link: "https://example.com/s1"}},
		},
		pageFail: map[string]bool{"https://example.com/s1": true},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Tech Story", records[0].Title)
}

func TestPipelineRejectsInvalidDialogue(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology"},
		badDialogue:   map[string]bool{"article-1": true},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)

	// 不合法的对话直接拒绝，文章被跳过，不做修复
	assert.Empty(t, records)
}

func TestPipelineExcludesUnknownMatchedTopic(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology", "Cooking"}, // Cooking不在目录中
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
			"Cooking":    {{Title: "Cooking Story", Link: "https://example.com/c1"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)

	// 目录外话题被排除，不会进入抓取阶段
	require.Len(t, records, 1)
	assert.Equal(t, "Technology", records[0].Topic)
}

func TestPipelineTruncatesTopicsOverLimit(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	params.NewsConfig.MaxTopics = 2
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology", "Sports", "Health"},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
			"Sports":     {{Title: "Sports Story", Link: "https://example.com/s1"}},
			"Health":     {{Title: "Health Story", Link: "https://example.com/h1"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)

	// 匹配话题超过上限时按目录顺序截断
	require.Len(t, records, 2)
	assert.Equal(t, "Technology", records[0].Topic)
	assert.Equal(t, "Sports", records[1].Topic)
}

func TestPipelineNoMatchedTopicsSavesEmpty(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{matchedTopics: nil, ledger: ledger}
	newsService := &fakeNewsService{catalog: defaultCatalog()}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	records, err := pipeline.Run(params)
	require.NoError(t, err)
	assert.Empty(t, records)

	// 即使没有匹配结果也整体覆盖写入空数组
	data, err := os.ReadFile(params.StoreFile)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestPipelineRunTwiceOverwrites(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{
		matchedTopics: []string{"Technology"},
		ledger:        ledger,
	}
	newsService := &fakeNewsService{
		catalog: defaultCatalog(),
		perTopic: map[string][]model.Article{
			"Technology": {{Title: "Tech Story", Link: "https://example.com/t1"}},
		},
	}

	pipeline := NewPipelineService(aiClient, newsService, ledger)

	_, err := pipeline.Run(params)
	require.NoError(t, err)

	records, err := pipeline.Run(params)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// 数据文件不随多次运行累积
	loaded, err := store.NewJSONNewsStore(params.StoreFile).Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, records[0].ID, loaded[0].ID)
}

func TestPipelineMissingSilenceAssetIsFatal(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	require.NoError(t, os.Remove(filepath.Join(params.AudioConfig.OutputDir, "silent.mp3")))
	ledger := service.NewUsageLedger()

	aiClient := &fakeAIClient{matchedTopics: []string{"Technology"}, ledger: ledger}
	newsService := &fakeNewsService{catalog: defaultCatalog()}

	pipeline := NewPipelineService(aiClient, newsService, ledger)
	_, err := pipeline.Run(params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIO))
	assert.True(t, IsFatal(err))
}

func TestPipelineEmptyProfileIsFatal(t *testing.T) {
	t.Parallel()

	params := newTestParams(t)
	params.Profile = "  "
	ledger := service.NewUsageLedger()

	pipeline := NewPipelineService(&fakeAIClient{ledger: ledger}, &fakeNewsService{}, ledger)
	_, err := pipeline.Run(params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfig))
	assert.True(t, IsFatal(err))
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	assert.True(t, IsFatal(fmt.Errorf("包装: %w", model.ErrConfig)))
	assert.True(t, IsFatal(fmt.Errorf("包装: %w", model.ErrIO)))
	assert.False(t, IsFatal(fmt.Errorf("包装: %w", model.ErrUpstream)))
	assert.False(t, IsFatal(errors.New("其他错误")))
}
