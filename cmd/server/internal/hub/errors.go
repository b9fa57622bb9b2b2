package hub

import "errors"

// 错误定义
var (
	// ErrNoToken 未提供访问令牌
	ErrNoToken = errors.New("hub token is empty")

	// ErrUnauthorized 令牌无效或已过期
	ErrUnauthorized = errors.New("hub rejected the token")

	// ErrNotFound 仓库或文件不存在
	ErrNotFound = errors.New("hub resource not found")
)
