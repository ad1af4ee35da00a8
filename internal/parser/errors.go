package parser

import "errors"

var (
	// ErrUnreadableDocument 本地解析失败: 文件损坏、加密、或没有可提取的文本
	ErrUnreadableDocument = errors.New("UnreadableDocument")
	// ErrUnsupportedFormat 不支持的文件格式
	ErrUnsupportedFormat = errors.New("不支持的文件格式")
	// ErrFileTooLarge 文件超过大小上限
	ErrFileTooLarge = errors.New("文件超过大小上限")
	// ErrExtractionFailed 字段抽取调用失败、超时或返回无法解析
	ErrExtractionFailed = errors.New("ExtractionFailed")
	// ErrEmbeddingFailed 向量化调用失败
	ErrEmbeddingFailed = errors.New("EmbeddingFailed")

	// 同一部署内向量维度必须一致
	errDimensionMismatch = errors.New("向量维度不一致")
)
