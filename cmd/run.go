package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	appservice "github.com/wolfitem/ai-newscast/internal/application/service"
	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/domain/service"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/ai"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
)

var (
	profileText string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [兴趣自述]",
	Short: "根据兴趣自述生成新闻对话音频",
	Long: `根据用户的兴趣自述匹配话题目录中的新闻话题，获取每个话题的最新文章，
使用OpenAI API提取正文、生成双人问答对话并合成语音，
最终为每篇成功处理的文章输出一个音频文件，并将全部记录覆盖写入JSON文件。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 兴趣自述优先取标志，其次取位置参数，最后取配置文件
		profile := profileText
		if profile == "" && len(args) > 0 {
			profile = strings.Join(args, " ")
		}
		if profile == "" {
			profile = viper.GetString("profile")
		}

		validator := service.NewValidator()

		openAIConfig := model.OpenAIConfig{
			APIKey:          viper.GetString("openai.api_key"),
			APIBase:         viper.GetString("openai.api_base"),
			ChatModel:       viper.GetString("openai.chat_model"),
			TTSModel:        viper.GetString("openai.tts_model"),
			QuestionerVoice: viper.GetString("openai.questioner_voice"),
			AnswererVoice:   viper.GetString("openai.answerer_voice"),
			MaxTokens:       viper.GetInt("openai.max_tokens"),
			MaxCalls:        viper.GetInt("openai.max_calls"),
			MaxUtterances:   viper.GetInt("openai.max_utterances"),
			APITimeout:      viper.GetInt("openai.api_timeout"),
		}

		// API密钥缺失是致命的启动错误，在执行任何工作前检查
		apiKey, err := validator.GetAPIKey(&openAIConfig)
		if err != nil {
			logger.Error("获取API密钥失败", "error", err)
			return err
		}
		openAIConfig.APIKey = apiKey

		params := model.ProcessParams{
			Profile:      profile,
			CatalogFile:  viper.GetString("news.catalog_file"),
			StoreFile:    viper.GetString("store.file_path"),
			OpenAIConfig: openAIConfig,
			NewsConfig: model.NewsConfig{
				MaxTopics:        viper.GetInt("news.max_topics"),
				MaxPerTopic:      viper.GetInt("news.max_per_topic"),
				Timeout:          viper.GetInt("news.timeout"),
				Concurrency:      viper.GetInt("news.concurrency"),
				MaxRetries:       viper.GetInt("news.max_retries"),
				RetryBackoffBase: viper.GetInt("news.retry_backoff_base"),
				OverallTimeout:   viper.GetInt("news.overall_timeout"),
			},
			AudioConfig: model.AudioConfig{
				OutputDir:   viper.GetString("audio.output_dir"),
				SilenceFile: viper.GetString("audio.silence_file"),
			},
			Pricing: model.Pricing{
				InputPerMTok:  viper.GetFloat64("pricing.input_per_mtok"),
				OutputPerMTok: viper.GetFloat64("pricing.output_per_mtok"),
				AudioPerMChar: viper.GetFloat64("pricing.audio_per_mchar"),
			},
		}

		// 用量累加器显式创建并传入客户端，运行结束时读取汇总
		ledger := service.NewUsageLedger()
		aiClient := ai.NewOpenAIClient(params.OpenAIConfig, ledger)
		newsService := service.NewNewsService()
		pipeline := appservice.NewPipelineService(aiClient, newsService, ledger)

		// 长时间运行期间周期性记录内存使用
		memMonitor := logger.NewMemStatsMonitor(time.Minute)
		memMonitor.Start()
		defer memMonitor.Stop()

		start := time.Now()
		records, err := pipeline.Run(params)
		if err != nil {
			logger.Error("流水线执行失败", "error", err, "fatal", appservice.IsFatal(err))
			return fmt.Errorf("流水线执行失败: %w", err)
		}

		summary := ledger.Summary()
		fmt.Printf("处理完成: %d篇文章, 耗时%.1f秒\n", len(records), time.Since(start).Seconds())
		for _, record := range records {
			fmt.Printf("  [%s] %s -> %s\n", record.Topic, record.Title, record.AudioFile)
		}
		fmt.Printf("用量: 输入%d令牌, 输出%d令牌, 语音%d字符\n",
			summary.InputTokens, summary.OutputTokens, summary.AudioChars)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	// 本地标志
	runCmd.Flags().StringVarP(&profileText, "profile", "p", "", "用户兴趣自述（可选，默认取位置参数或配置文件）")
}
