package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wolfitem/ai-newscast/internal/domain/model"
	"github.com/wolfitem/ai-newscast/internal/infrastructure/logger"
)

// NewsStore 定义新闻数据持久化接口。
// 单写者：只有流水线驱动在运行结束时写入，每次整体覆盖，不做合并或版本管理。
type NewsStore interface {
	// Save 整体覆盖写入全部记录
	Save(records []model.NewsRecord) error
	// Load 读取当前全部记录
	Load() ([]model.NewsRecord, error)
}

// jsonNewsStore 实现NewsStore接口的JSON文件存储
type jsonNewsStore struct {
	filePath string
}

// NewJSONNewsStore 创建一个新的JSON文件存储实例
func NewJSONNewsStore(filePath string) NewsStore {
	if filePath == "" {
		filePath = "news.json"
	}
	return &jsonNewsStore{filePath: filePath}
}

// Save 整体覆盖写入全部记录
func (s *jsonNewsStore) Save(records []model.NewsRecord) error {
	logger.Info("保存新闻数据", "file", s.filePath, "records_count", len(records))

	// 确保输出目录存在
	dir := filepath.Dir(s.filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: 创建输出目录失败: %v", model.ErrIO, err)
		}
	}

	if records == nil {
		records = []model.NewsRecord{}
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: 序列化新闻数据失败: %v", model.ErrIO, err)
	}

	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("%w: 写入新闻数据文件失败: %v", model.ErrIO, err)
	}

	logger.Info("新闻数据保存成功", "file", s.filePath)
	return nil
}

// Load 读取当前全部记录
func (s *jsonNewsStore) Load() ([]model.NewsRecord, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取新闻数据文件失败: %v", model.ErrIO, err)
	}

	var records []model.NewsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: 解析新闻数据文件失败: %v", model.ErrIO, err)
	}

	return records, nil
}
