package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"gorm.io/datatypes"
)

// ContentHash 计算字节内容的 SHA-256 十六进制摘要，作为文档的 content_id。
// 只依赖字节本身，与文件名、路径、时间无关。
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortID 日志里使用的短摘要
func ShortID(contentID string) string {
	if len(contentID) <= 12 {
		return contentID
	}
	return contentID[:12]
}

// ConvertToJSON 辅助函数: 将任意值转换为 datatypes.JSON，失败时返回空对象
func ConvertToJSON(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

// ConvertFloatsToJSON 辅助函数: 将向量转换为JSON数组
func ConvertFloatsToJSON(vec []float64) datatypes.JSON {
	if len(vec) == 0 {
		return datatypes.JSON("[]")
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}
