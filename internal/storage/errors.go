package storage

import "errors"

var (
	// ErrStoreUnavailable 存储未配置或不可达
	ErrStoreUnavailable = errors.New("StoreUnavailable")
	// ErrRecordNotFound 记录不存在，Get 以 found=false 对外表达
	ErrRecordNotFound = errors.New("记录不存在")
)
