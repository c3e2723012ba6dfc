package model

import "errors"

// 错误分类哨兵，用于区分流程中各类失败的处理策略：
// ErrConfig和缺失静音素材直接中止运行，
// 其余错误在单篇文章粒度捕获、记录日志后跳过该文章继续处理。
var (
	// ErrConfig 配置错误（缺少API密钥、话题目录为空等），致命
	ErrConfig = errors.New("配置错误")
	// ErrUpstream 上游调用失败（LLM或新闻源请求失败、超时）
	ErrUpstream = errors.New("上游调用失败")
	// ErrValidation 结构化响应校验失败（话题不在目录中、对话格式非法）
	ErrValidation = errors.New("响应校验失败")
	// ErrInsufficientContent 文章正文为空，无法生成对话
	ErrInsufficientContent = errors.New("文章内容为空")
	// ErrIO 文件读写失败
	ErrIO = errors.New("文件读写失败")
)
