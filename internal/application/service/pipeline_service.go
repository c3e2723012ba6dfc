package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/domain/service"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/audio"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/store"
)

// PipelineService 定义新闻播客流水线的应用服务接口
type PipelineService interface {
	// Run 执行完整流水线：话题匹配 → 新闻获取 → 对话生成 → 语音合成 → 持久化
	Run(params model.ProcessParams) ([]model.NewsRecord, error)
}

// pipelineService 实现PipelineService接口
type pipelineService struct {
	aiClient    service.AIClient
	newsService service.NewsService
	ledger      *service.UsageLedger
	validator   *service.Validator
}

// NewPipelineService 创建一个新的流水线服务实例。
// LLM客户端、新闻服务和用量累加器由调用方显式传入，便于测试替换。
func NewPipelineService(aiClient service.AIClient, newsService service.NewsService, ledger *service.UsageLedger) PipelineService {
	return &pipelineService{
		aiClient:    aiClient,
		newsService: newsService,
		ledger:      ledger,
		validator:   service.NewValidator(),
	}
}

// Run 执行完整流水线。
// 致命错误（配置缺失、静音素材缺失）中止运行；
// 单篇文章的失败记录日志后跳过，不影响其他文章。
func (s *pipelineService) Run(params model.ProcessParams) ([]model.NewsRecord, error) {
	logger.Info("开始执行新闻播客流水线", "catalog_file", params.CatalogFile)
	defer logger.TimeTrack("Run")()

	// 记录初始内存使用情况
	logger.LogMemStatsOnce()

	// 1. 校验输入和共享前置条件
	if err := s.validator.ValidateProfile(params.Profile); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateCatalogFile(params.CatalogFile); err != nil {
		return nil, err
	}

	combiner := audio.NewCombiner(params.AudioConfig)
	if err := combiner.CheckSilenceAsset(); err != nil {
		// 静音素材是所有文章共享的前置条件，缺失时整个运行中止
		logger.Error("静音素材检查失败", "error", err)
		return nil, err
	}

	// 2. 解析话题目录
	catalog, err := s.newsService.ParseCatalog(params.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: 话题目录为空: %s", model.ErrConfig, params.CatalogFile)
	}

	// 3. 话题匹配
	sources, err := s.matchTopics(params.Profile, catalog, params.NewsConfig)
	if err != nil {
		return nil, err
	}

	newsStore := store.NewJSONNewsStore(params.StoreFile)

	if len(sources) == 0 {
		logger.Warn("没有匹配到任何话题", "profile", params.Profile)
		if err := newsStore.Save(nil); err != nil {
			return nil, err
		}
		s.logUsageSummary(params.Pricing)
		return nil, nil
	}

	// 4. 获取新闻条目（跨话题去重，分配唯一ID）
	articles, err := s.newsService.FetchHeadlines(sources, params.NewsConfig)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		logger.Warn("没有获取到任何文章")
		if err := newsStore.Save(nil); err != nil {
			return nil, err
		}
		s.logUsageSummary(params.Pricing)
		return nil, nil
	}
	logger.Info("成功获取文章", "articles_count", len(articles))

	// 5. 逐篇文章处理：正文提取 → 对话生成 → 语音合成
	records := s.processArticles(articles, params, combiner)

	// 6. 整体覆盖持久化成功处理的记录
	if err := newsStore.Save(records); err != nil {
		return nil, err
	}

	// 7. 输出用量汇总
	s.logUsageSummary(params.Pricing)

	logger.Info("流水线执行完成", "records_count", len(records), "skipped_count", len(articles)-len(records))
	return records, nil
}

// matchTopics 调用LLM进行话题匹配并根据目录校验结果。
// 目录外的话题名记录日志后排除，不静默丢弃也不中止运行。
func (s *pipelineService) matchTopics(profile string, catalog []model.TopicSource, config model.NewsConfig) ([]model.TopicSource, error) {
	stageLog := logger.WithContext("topic_matcher")

	names := make([]string, 0, len(catalog))
	for _, topic := range catalog {
		names = append(names, topic.Name)
	}

	ctx := context.Background()
	matched, err := s.aiClient.MatchTopics(ctx, profile, names)
	if err != nil {
		stageLog.Error("话题匹配调用失败", "error", err)
		return nil, err
	}

	sources, vErr := s.validator.FilterMatchedTopics(matched, catalog)
	if vErr != nil {
		stageLog.Error("话题匹配响应包含目录外话题，已排除", "error", vErr)
	}

	maxTopics := 3
	if config.MaxTopics > 0 {
		maxTopics = config.MaxTopics
	}
	if len(sources) > maxTopics {
		stageLog.Warn("匹配话题超过上限，截断处理", "matched", len(sources), "max_topics", maxTopics)
		sources = sources[:maxTopics]
	}

	matchedNames := make([]string, 0, len(sources))
	for _, src := range sources {
		matchedNames = append(matchedNames, src.Name)
	}
	stageLog.Info("话题匹配完成", "topics", matchedNames)
	return sources, nil
}

// processArticles 使用工作池并发处理文章，保持原始顺序收集结果。
// 单篇文章的失败互不影响，用量累加器内部加锁支持并发记录。
func (s *pipelineService) processArticles(articles []model.Article, params model.ProcessParams, combiner *audio.Combiner) []model.NewsRecord {
	concurrency := 1
	if params.NewsConfig.Concurrency > 0 {
		concurrency = params.NewsConfig.Concurrency
	}
	logger.Info("开始处理文章", "articles_count", len(articles), "concurrency", concurrency)

	type articleTask struct {
		article model.Article
		index   int
	}
	type recordWithIndex struct {
		record model.NewsRecord
		index  int
		skip   bool
	}

	workChan := make(chan articleTask, len(articles))
	resultChan := make(chan recordWithIndex, len(articles))

	// 启动工作协程
	for i := 0; i < concurrency; i++ {
		go func() {
			for task := range workChan {
				record, skip := s.processArticleTask(task.article, params, combiner)
				resultChan <- recordWithIndex{record: record, index: task.index, skip: skip}
			}
		}()
	}

	// 发送任务到工作通道
	for i, article := range articles {
		workChan <- articleTask{article: article, index: i}
	}
	close(workChan)

	// 收集结果
	resultsMap := make(map[int]model.NewsRecord)
	skippedCount := 0
	for i := 0; i < len(articles); i++ {
		result := <-resultChan
		if !result.skip {
			resultsMap[result.index] = result.record
		} else {
			skippedCount++
		}
	}

	// 按原始顺序整理结果
	var records []model.NewsRecord
	for i := 0; i < len(articles); i++ {
		if record, ok := resultsMap[i]; ok {
			records = append(records, record)
		}
	}

	logger.Info("文章处理完成", "records_count", len(records), "skipped_count", skippedCount)
	return records
}

// processArticleTask 处理单篇文章：正文提取、对话生成、语音合成。
// 任一环节失败都记录足以定位的日志（话题、ID、标题）并跳过该文章。
func (s *pipelineService) processArticleTask(article model.Article, params model.ProcessParams, combiner *audio.Combiner) (model.NewsRecord, bool) {
	ctx := context.Background()

	// 正文提取。失败时保留文章但标记正文缺失，由后续判断跳过
	article.FullText = s.enrichArticle(ctx, article, params.NewsConfig)

	if article.FullText == "" {
		logger.Warn("文章正文为空，跳过对话生成",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title,
			"error", model.ErrInsufficientContent)
		return model.NewsRecord{}, true
	}

	// 对话生成
	stageLog := logger.WithContext("dialogue_generator")
	script, err := s.aiClient.GenerateDialogue(ctx, article)
	if err != nil {
		stageLog.Error("对话生成失败，跳过该文章",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title, "error", err)
		return model.NewsRecord{}, true
	}

	// 结构校验：非空、从提问者开始严格交替。不合法直接拒绝，不做修复
	if err := s.validator.ValidateDialogue(script); err != nil {
		stageLog.Error("对话脚本校验失败，跳过该文章",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title, "error", err)
		return model.NewsRecord{}, true
	}

	// 语音合成与拼接
	audioPath, err := s.synthesizeDialogue(ctx, script, params.OpenAIConfig, combiner)
	if err != nil {
		logger.Error("语音合成失败，跳过该文章",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title, "error", err)
		return model.NewsRecord{}, true
	}

	return model.NewsRecord{
		Article:             article,
		Dialogue:            script.Utterances,
		QuestionerToneStyle: script.QuestionerToneStyle,
		AnswererToneStyle:   script.AnswererToneStyle,
		AudioFile:           audioPath,
	}, false
}

// enrichArticle 抓取文章页面并通过LLM提取正文，失败时返回空字符串
func (s *pipelineService) enrichArticle(ctx context.Context, article model.Article, config model.NewsConfig) string {
	stageLog := logger.WithContext("news_fetcher")

	pageText, err := s.newsService.FetchPageText(ctx, article.Link, config.Timeout)
	if err != nil {
		stageLog.Error("抓取文章页面失败",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title, "error", err)
		return ""
	}

	fullText, err := s.aiClient.ExtractArticle(ctx, article.Title, pageText)
	if err != nil {
		stageLog.Error("正文提取失败",
			"topic", article.Topic, "article_id", article.ID, "title", article.Title, "error", err)
		return ""
	}

	return fullText
}

// synthesizeDialogue 按脚本逐句合成语音并拼接为单个音频文件。
// 提问者和回答者各使用固定音色，语气风格作为语音指令传入。
// 任一句合成失败则中止该文章的产物并清理已写入的片段。
func (s *pipelineService) synthesizeDialogue(ctx context.Context, script model.DialogueScript, config model.OpenAIConfig, combiner *audio.Combiner) (string, error) {
	var segments []string

	for i, utterance := range script.Utterances {
		voice := config.QuestionerVoice
		instructions := script.QuestionerToneStyle
		if utterance.Speaker == model.SpeakerAnswerer {
			voice = config.AnswererVoice
			instructions = script.AnswererToneStyle
		}

		data, err := s.aiClient.SynthesizeSpeech(ctx, utterance.Text, voice, instructions)
		if err != nil {
			combiner.Cleanup(segments)
			return "", err
		}

		segmentPath, err := combiner.WriteSegment(script.ArticleID, i, data)
		if err != nil {
			combiner.Cleanup(segments)
			return "", err
		}
		segments = append(segments, segmentPath)
	}

	return combiner.Combine(script.ArticleID, segments)
}

// logUsageSummary 输出用量汇总和成本估算
func (s *pipelineService) logUsageSummary(pricing model.Pricing) {
	summary := s.ledger.Summary()
	logger.Info("用量统计汇总",
		"input_tokens", summary.InputTokens,
		"output_tokens", summary.OutputTokens,
		"audio_characters", summary.AudioChars)

	if cost := s.ledger.EstimateCost(pricing); cost > 0 {
		logger.Info("成本估算", "estimated_cost_usd", fmt.Sprintf("%.4f", cost))
	}
}

// IsFatal 判断错误是否属于致命类别（配置错误或共享前置条件缺失）
func IsFatal(err error) bool {
	return errors.Is(err, model.ErrConfig) || errors.Is(err, model.ErrIO)
}
