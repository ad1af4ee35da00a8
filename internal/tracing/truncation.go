package tracing

import (
	"path/filepath"
	"strings"
)

const (
	maxStatusLength   = 200
	maxSQLLength      = 500
	maxRedisKeyLength = 100
	maxDocumentLength = 150
	maxFileNameLength = 80
)

// TruncateString 按字符截断，保留首尾，中间用 ... 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeFileName 简历文件名常带候选人姓名，只保留扩展名和首尾两个字符
func SafeFileName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return TruncateString(maskPII(strings.TrimSuffix(base, ext)), maxFileNameLength) + ext
}

// maskPII 短值保留首字符，长值保留首尾各两个字符
func maskPII(value string) string {
	runes := []rune(value)
	switch n := len(runes); {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-1)
	default:
		return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
	}
}

// SafeSQL SQL 语句写入 span 前截断
func SafeSQL(sql string) string {
	return TruncateString(sql, maxSQLLength)
}

// SafeRedisKey Redis 键写入 span 前截断
func SafeRedisKey(key string) string {
	return TruncateString(key, maxRedisKeyLength)
}

// SafeDocumentContent 文档内容或模型输出只保留开头和结尾
func SafeDocumentContent(content string) string {
	return TruncateString(content, maxDocumentLength)
}
