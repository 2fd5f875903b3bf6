package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection 端点不可达或凭据被拒绝。
	ErrConnection = errors.New("connection error")
	// ErrValidation 快照既没有 ID 也没有名称等无法处理的输入。
	ErrValidation = errors.New("validation error")
	// ErrPerItem 单台 VM 在拉取阶段处理失败。
	ErrPerItem = errors.New("per-item processing error")
	// ErrPersistence 提交失败，整批回滚。
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("not found")
	// ErrLockNotHeld 释放了一个当前进程未持有的锁。
	ErrLockNotHeld = errors.New("lock not held")
)

// ConnectionError 携带出错的端点。
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("连接 %s 失败: %v", e.Host, e.Err)
}

// Unwrap 使 errors.Is(err, ErrConnection) 成立。
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// ItemError 单台 VM 的处理错误。
type ItemError struct {
	Datacenter string
	VM         string
	Err        error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("处理 VM %q (datacenter=%s) 失败: %v", e.VM, e.Datacenter, e.Err)
}

func (e *ItemError) Unwrap() []error {
	return []error{ErrPerItem, e.Err}
}

// PersistenceError 提交或回滚阶段的错误。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s 失败: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
