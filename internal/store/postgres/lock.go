package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"

	"vminventory/internal/domain"
)

// TryAcquire 在独占连接上获取会话级 advisory lock，成功后连接一直保留到 Release。
func (s *Store) TryAcquire(ctx context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("获取连接失败: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("获取 advisory lock 失败: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	s.locks[key] = conn
	return true, nil
}

// Release 释放锁并把连接归还连接池。
func (s *Store) Release(ctx context.Context, key int64) error {
	s.lockMu.Lock()
	conn, held := s.locks[key]
	delete(s.locks, key)
	s.lockMu.Unlock()
	if !held {
		return domain.ErrLockNotHeld
	}
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
		// 丢弃该连接，断开后服务端自动释放会话锁
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		return fmt.Errorf("释放 advisory lock 失败: %w", err)
	}
	if !released {
		s.logger.Warn("advisory lock was not held by this session")
		return domain.ErrLockNotHeld
	}
	return nil
}
