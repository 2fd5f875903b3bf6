// Package postgres 是基于 PostgreSQL 的 Store 实现：事务内 select for update 加锁，
// 全局互斥使用会话级 advisory lock，进程崩溃时随连接断开自动释放。
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/store"
	"vminventory/internal/util"
)

//go:embed schema.sql
var schemaSQL string

const (
	vmColumns      = "id, name, cpu, memory_mb, guest_os, power_state, created_date, last_booted_date, hypervisor, created_at, updated_at"
	diskColumns    = "id, vm_id, label, size_gb"
	nicColumns     = "id, vm_id, label, mac, network, connected, nic_type, ip_addresses"
	profileColumns = "id, name, kind, host, username, password, disable_ssl, enabled"

	foreignKeyViolation = "23503"
)

var (
	_ store.Store           = (*Store)(nil)
	_ store.DistributedLock = (*Store)(nil)
)

// Options 配置数据库连接。
type Options struct {
	DSN          string
	MaxOpenConns int
	// ConnectAttempts 与 ConnectBackoff 控制启动时的连接重试。
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// Store 实现 store.Store 与 store.DistributedLock。
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[int64]*sql.Conn
}

// Open 打开连接池并等待数据库可用。
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("postgres dsn 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}
	backoff := opts.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	err = util.Retry(ctx, opts.ConnectAttempts, backoff, func() error {
		pingErr := db.PingContext(ctx)
		if pingErr != nil {
			logger.Warn("postgres not ready", zap.Error(pingErr))
		}
		return pingErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	return New(db, logger), nil
}

// New 包装已有连接池。
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, locks: make(map[int64]*sql.Conn)}
}

// Migrate 执行建表语句，可重复执行。
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	s.logger.Info("schema migrated")
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *Store) Close() error {
	s.lockMu.Lock()
	for key, conn := range s.locks {
		_ = conn.Close()
		delete(s.locks, key)
	}
	s.lockMu.Unlock()
	return s.db.Close()
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	return &tx{tx: sqlTx}, nil
}

func (s *Store) GetVM(ctx context.Context, id string) (*domain.VM, error) {
	vm, err := getVM(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, fmt.Errorf("vm %s: %w", id, domain.ErrNotFound)
	}
	if err := sqlscan.Select(ctx, s.db, &vm.Owners,
		`SELECT o.id, o.name, o.email, o.department FROM owners o
		 JOIN vm_owners vo ON vo.owner_id = o.id WHERE vo.vm_id = $1 ORDER BY o.id`, id); err != nil {
		return nil, fmt.Errorf("读取负责人失败: %w", err)
	}
	if err := sqlscan.Select(ctx, s.db, &vm.Tags,
		`SELECT t.id, t.name, t.description FROM tags t
		 JOIN vm_tags vt ON vt.tag_id = t.id WHERE vt.vm_id = $1 ORDER BY t.id`, id); err != nil {
		return nil, fmt.Errorf("读取标签失败: %w", err)
	}
	return vm, nil
}

func (s *Store) Summary(ctx context.Context) (domain.Summary, error) {
	var sum domain.Summary
	err := sqlscan.Get(ctx, s.db, &sum, `
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE power_state = 'poweredOn')  AS powered_on,
		       count(*) FILTER (WHERE power_state = 'poweredOff') AS powered_off,
		       count(*) FILTER (WHERE power_state IS NULL OR power_state NOT IN ('poweredOn', 'poweredOff')) AS other
		FROM vms`)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("汇总 VM 失败: %w", err)
	}
	return sum, nil
}

func (s *Store) ListEnabledProfiles(ctx context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	if err := sqlscan.Select(ctx, s.db, &out,
		"SELECT "+profileColumns+" FROM connection_profiles WHERE enabled ORDER BY id"); err != nil {
		return nil, fmt.Errorf("读取连接配置失败: %w", err)
	}
	return out, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	if err := sqlscan.Select(ctx, s.db, &out,
		"SELECT "+profileColumns+" FROM connection_profiles ORDER BY id"); err != nil {
		return nil, fmt.Errorf("读取连接配置失败: %w", err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id int64) (*domain.Profile, error) {
	var p domain.Profile
	err := sqlscan.Get(ctx, s.db, &p, "SELECT "+profileColumns+" FROM connection_profiles WHERE id = $1", id)
	if sqlscan.NotFound(err) {
		return nil, fmt.Errorf("profile %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取连接配置失败: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.Kind == "" {
		p.Kind = domain.ProfileKindVCenter
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO connection_profiles (name, kind, host, username, password, disable_ssl, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind, host = EXCLUDED.host,
		    username = EXCLUDED.username, password = EXCLUDED.password,
		    disable_ssl = EXCLUDED.disable_ssl, enabled = EXCLUDED.enabled
		RETURNING id`,
		p.Name, p.Kind, p.Host, p.Username, p.Password, p.DisableSSL, p.Enabled).Scan(&p.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("保存连接配置失败: %w", err)
	}
	return p, nil
}

func (s *Store) SeedProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.Kind == "" {
		p.Kind = domain.ProfileKindVCenter
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO connection_profiles (name, kind, host, username, password, disable_ssl, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`,
		p.Name, p.Kind, p.Host, p.Username, p.Password, p.DisableSSL, p.Enabled).Scan(&p.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("写入连接配置失败: %w", err)
	}
	var existing domain.Profile
	if err := sqlscan.Get(ctx, s.db, &existing,
		"SELECT "+profileColumns+" FROM connection_profiles WHERE name = $1", p.Name); err != nil {
		return domain.Profile{}, fmt.Errorf("读取连接配置失败: %w", err)
	}
	return existing, nil
}

func (s *Store) SetProfileEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE connection_profiles SET enabled = $2 WHERE id = $1", id, enabled)
	if err != nil {
		return fmt.Errorf("更新连接配置失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateOwner(ctx context.Context, o domain.Owner) (domain.Owner, error) {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO owners (name, email, department) VALUES ($1, $2, $3) RETURNING id",
		o.Name, o.Email, o.Department).Scan(&o.ID)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("创建负责人失败: %w", err)
	}
	return o, nil
}

func (s *Store) CreateTag(ctx context.Context, t domain.Tag) (domain.Tag, error) {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO tags (name, description) VALUES ($1, $2) RETURNING id",
		t.Name, t.Description).Scan(&t.ID)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("创建标签失败: %w", err)
	}
	return t, nil
}

func (s *Store) AssignOwners(ctx context.Context, vmID string, ownerIDs []int64) error {
	return s.replaceLinks(ctx, "vm_owners", "owner_id", vmID, ownerIDs)
}

func (s *Store) AssignTags(ctx context.Context, vmID string, tagIDs []int64) error {
	return s.replaceLinks(ctx, "vm_tags", "tag_id", vmID, tagIDs)
}

// replaceLinks 整体替换关联表中某台 VM 的记录。table/column 均为内部常量。
func (s *Store) replaceLinks(ctx context.Context, table, column, vmID string, ids []int64) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	var exists bool
	if err = sqlTx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM vms WHERE id = $1)", vmID).Scan(&exists); err != nil {
		return fmt.Errorf("读取 VM 失败: %w", err)
	}
	if !exists {
		return fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	if _, err = sqlTx.ExecContext(ctx, "DELETE FROM "+table+" WHERE vm_id = $1", vmID); err != nil {
		return fmt.Errorf("清理 %s 失败: %w", table, err)
	}
	for _, id := range ids {
		if _, err = sqlTx.ExecContext(ctx, "INSERT INTO "+table+" (vm_id, "+column+") VALUES ($1, $2) ON CONFLICT DO NOTHING", vmID, id); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return fmt.Errorf("%s %d: %w", column, id, domain.ErrNotFound)
			}
			return fmt.Errorf("写入 %s 失败: %w", table, err)
		}
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

type nicRow struct {
	domain.NIC
	IPs []byte `db:"ip_addresses"`
}

// getVM 读取 VM 及其磁盘与网卡；forUpdate 时对 VM 行加排他锁。
func getVM(ctx context.Context, q sqlscan.Querier, id string, forUpdate bool) (*domain.VM, error) {
	query := "SELECT " + vmColumns + " FROM vms WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var vm domain.VM
	err := sqlscan.Get(ctx, q, &vm, query, id)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取 VM 失败: %w", err)
	}
	if err := loadChildren(ctx, q, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func loadChildren(ctx context.Context, q sqlscan.Querier, vm *domain.VM) error {
	if err := sqlscan.Select(ctx, q, &vm.Disks,
		"SELECT "+diskColumns+" FROM vm_disks WHERE vm_id = $1 ORDER BY id", vm.ID); err != nil {
		return fmt.Errorf("读取磁盘失败: %w", err)
	}
	var rows []nicRow
	if err := sqlscan.Select(ctx, q, &rows,
		"SELECT "+nicColumns+" FROM vm_nics WHERE vm_id = $1 ORDER BY id", vm.ID); err != nil {
		return fmt.Errorf("读取网卡失败: %w", err)
	}
	vm.NICs = make([]domain.NIC, 0, len(rows))
	for _, r := range rows {
		n := r.NIC
		if len(r.IPs) > 0 {
			if err := json.Unmarshal(r.IPs, &n.IPAddresses); err != nil {
				return fmt.Errorf("解析网卡 %d 的 IP 列表失败: %w", r.ID, err)
			}
		}
		vm.NICs = append(vm.NICs, n)
	}
	return nil
}
