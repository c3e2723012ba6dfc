package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gilliek/go-opml/opml"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
)

// NewsService 定义新闻获取的领域服务接口
type NewsService interface {
	// ParseCatalog 解析OPML话题目录并返回话题源列表
	ParseCatalog(catalogFile string) ([]model.TopicSource, error)

	// FetchHeadlines 从话题源获取最新条目，跨话题去重并分配唯一ID
	FetchHeadlines(topics []model.TopicSource, config model.NewsConfig) ([]model.Article, error)

	// FetchPageText 抓取文章页面并提取纯文本，作为正文提取的输入
	FetchPageText(ctx context.Context, pageURL string, timeout int) (string, error)
}

// newsService 实现NewsService接口
type newsService struct{}

// NewNewsService 创建一个新的新闻服务实例
func NewNewsService() NewsService {
	return &newsService{}
}

// ParseCatalog 解析OPML话题目录并返回话题源列表。
// 目录中每个outline的title为话题名，xmlUrl为对应的Google News话题feed地址。
func (s *newsService) ParseCatalog(catalogFile string) ([]model.TopicSource, error) {
	logger.Info("开始解析话题目录", "file", catalogFile)
	defer logger.TimeTrack("ParseCatalog")()

	doc, err := opml.NewOPMLFromFile(catalogFile)
	if err != nil {
		logger.Error("解析话题目录失败", "file", catalogFile, "error", err)
		return nil, fmt.Errorf("解析话题目录失败: %w", err)
	}

	var topics []model.TopicSource
	for _, outline := range doc.Outlines() {
		// 递归处理所有outline
		topics = append(topics, extractTopics(outline)...)
	}

	logger.Info("话题目录解析完成", "file", catalogFile, "topics_count", len(topics))
	return topics, nil
}

// extractTopics 递归提取outline中的话题源
func extractTopics(outline opml.Outline) []model.TopicSource {
	var topics []model.TopicSource

	// 如果当前outline有xmlUrl属性，则它是一个话题源
	if outline.XMLURL != "" {
		topics = append(topics, model.TopicSource{
			Name:    outline.Title,
			FeedUrl: outline.XMLURL,
		})
	}

	// 递归处理子outline
	for _, child := range outline.Outlines {
		topics = append(topics, extractTopics(child)...)
	}

	return topics
}

// stripHTMLTags 去除HTML标签，只保留纯文本
func stripHTMLTags(html string) string {
	if html == "" {
		return ""
	}

	// 使用goquery解析HTML
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Warn("解析HTML失败，返回原始内容", "error", err)
		return html
	}

	// 去掉脚本和样式，只保留可见文本
	doc.Find("script, style, noscript").Remove()
	text := doc.Text()

	// 清理文本，将连续的空白字符替换为单个空格
	text = strings.TrimSpace(text)
	text = strings.Join(strings.Fields(text), " ")

	return text
}

// dedupKey 生成跨话题去重键。同一篇文章在多个话题下出现时，
// 只按第一个产生它的话题计一次，正文提取也只执行一次。
func dedupKey(title, link string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(link)
}

// dedupArticles 按(标题,链接)去重并为每篇文章分配运行内唯一ID，
// 保持文章的原始顺序。
func dedupArticles(articles []model.Article) []model.Article {
	seen := make(map[string]bool, len(articles))
	var result []model.Article

	for _, article := range articles {
		key := dedupKey(article.Title, article.Link)
		if seen[key] {
			logger.Debug("跳过重复文章", "title", article.Title, "topic", article.Topic)
			continue
		}
		seen[key] = true

		article.ID = uuid.NewString()
		result = append(result, article)
	}

	return result
}

// FetchHeadlines 从话题源获取最新条目，跨话题去重并分配唯一ID
func (s *newsService) FetchHeadlines(topics []model.TopicSource, config model.NewsConfig) ([]model.Article, error) {
	logger.Info("开始获取话题新闻", "topics_count", len(topics))
	defer logger.TimeTrack("FetchHeadlines")()

	// 设置配置，使用传入的配置或默认值
	timeout := 15
	concurrency := 3
	maxRetries := 3
	overallTimeout := 60
	retryBackoffBase := 1
	maxPerTopic := 1

	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	if config.Concurrency > 0 {
		concurrency = config.Concurrency
	}
	if config.MaxRetries > 0 {
		maxRetries = config.MaxRetries
	}
	if config.OverallTimeout > 0 {
		overallTimeout = config.OverallTimeout
	}
	if config.RetryBackoffBase > 0 {
		retryBackoffBase = config.RetryBackoffBase
	}
	if config.MaxPerTopic > 0 {
		maxPerTopic = config.MaxPerTopic
	}

	logger.Info("使用抓取配置",
		"timeout_seconds", timeout,
		"concurrency", concurrency,
		"max_retries", maxRetries,
		"max_per_topic", maxPerTopic)

	fp := gofeed.NewParser()
	fp.Client = &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
	}

	// 使用通道和goroutine并行处理话题源
	type topicResult struct {
		index    int
		articles []model.Article
		err      error
		topic    model.TopicSource
	}

	resultChan := make(chan topicResult, len(topics))
	// 限制并发数量，避免过多的并发请求
	semaphore := make(chan struct{}, concurrency)

	for i, topic := range topics {
		go func(idx int, src model.TopicSource) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			logger.Info("开始获取话题feed", "topic", src.Name, "url", src.FeedUrl)

			feed, err := fetchFeedWithRetry(fp, src, timeout, maxRetries, retryBackoffBase)
			if err != nil {
				resultChan <- topicResult{index: idx, err: fmt.Errorf("%w: %v", model.ErrUpstream, err), topic: src}
				return
			}

			var topicArticles []model.Article
			if feed != nil && len(feed.Items) > 0 {
				logger.Info("成功获取话题feed", "topic", src.Name, "items_count", len(feed.Items))

				for _, item := range feed.Items {
					if len(topicArticles) >= maxPerTopic {
						break
					}

					// 如果没有发布日期，尝试使用更新日期或当前日期
					publishDate := time.Now()
					if item.PublishedParsed != nil {
						publishDate = *item.PublishedParsed
					} else if item.UpdatedParsed != nil {
						publishDate = *item.UpdatedParsed
					}

					topicArticles = append(topicArticles, model.Article{
						Topic:       src.Name,
						Title:       strings.TrimSpace(item.Title),
						Link:        item.Link,
						PublishDate: publishDate.Format(time.RFC3339),
					})
				}
			} else {
				logger.Warn("话题feed没有条目", "topic", src.Name, "url", src.FeedUrl)
			}

			resultChan <- topicResult{index: idx, articles: topicArticles, topic: src}
		}(i, topic)
	}

	// 收集结果，保持话题的原始顺序
	timeoutChan := time.After(time.Duration(overallTimeout) * time.Second)
	resultsMap := make(map[int][]model.Article)
	resultsCount := 0

	for resultsCount < len(topics) {
		select {
		case result := <-resultChan:
			resultsCount++
			if result.err != nil {
				// 单个话题失败不中断整体流程
				logger.Error("获取话题feed失败", "topic", result.topic.Name, "error", result.err)
				continue
			}
			resultsMap[result.index] = result.articles

		case <-timeoutChan:
			logger.Error("获取话题feed超时", "processed", resultsCount, "total", len(topics))
			return nil, fmt.Errorf("%w: 获取话题feed超时，已处理%d/%d个话题", model.ErrUpstream, resultsCount, len(topics))
		}
	}

	indexes := make([]int, 0, len(resultsMap))
	for idx := range resultsMap {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var articles []model.Article
	for _, idx := range indexes {
		articles = append(articles, resultsMap[idx]...)
	}

	// 跨话题去重并分配ID（去重先于正文提取，避免重复成本）
	articles = dedupArticles(articles)

	logger.Info("所有话题处理完成", "total_articles", len(articles))
	return articles, nil
}

// fetchFeedWithRetry 带指数退避重试地抓取并解析一个feed
func fetchFeedWithRetry(fp *gofeed.Parser, src model.TopicSource, timeout, maxRetries, retryBackoffBase int) (*gofeed.Feed, error) {
	var feed *gofeed.Feed
	var fetchErr error

	for retries := 0; retries < maxRetries; retries++ {
		logger.Debug("尝试解析话题feed", "topic", src.Name, "url", src.FeedUrl, "attempt", retries+1)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		feed, fetchErr = fp.ParseURLWithContext(src.FeedUrl, ctx)
		cancel()

		if fetchErr == nil {
			return feed, nil
		}

		logger.Warn("解析话题feed失败，准备重试",
			"topic", src.Name,
			"url", src.FeedUrl,
			"attempt", retries+1,
			"error", fetchErr)

		if retries < maxRetries-1 {
			// 指数退避策略，每次重试等待时间翻倍
			backoffTime := time.Duration(retryBackoffBase<<retries) * time.Second
			logger.Info("等待重试", "backoff_time_ms", backoffTime.Milliseconds())
			time.Sleep(backoffTime)
		}
	}

	logger.Error("无法解析话题feed，已达到最大重试次数", "topic", src.Name, "url", src.FeedUrl, "error", fetchErr)
	return nil, fetchErr
}

// FetchPageText 抓取文章页面并提取纯文本。
// Google News的feed条目只带标题和链接，正文需要回源页面获取。
func (s *newsService) FetchPageText(ctx context.Context, pageURL string, timeout int) (string, error) {
	if timeout <= 0 {
		timeout = 15
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: 创建页面请求失败: %v", model.ErrUpstream, err)
	}
	req.Header.Set("User-Agent", "ai-newscast/1.0")

	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: 抓取页面失败: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: 页面返回错误状态码: %d", model.ErrUpstream, resp.StatusCode)
	}

	// 限制响应大小，避免异常页面导致的内存问题
	const maxSize = 10 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return "", fmt.Errorf("%w: 读取页面失败: %v", model.ErrUpstream, err)
	}

	text := stripHTMLTags(string(body))
	logger.Debug("页面文本提取完成", "url", pageURL, "text_length", len(text))
	return text, nil
}
