package ledger

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"Awe-Chain/deploy/migrations"
)

var embeddedMigrations fs.ReadFileFS = migrations.Files

const createSchemaMigrationsSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

type migrationStep struct {
	version    string
	file       string
	statements []string
}

// runMigrations 依次执行尚未应用的嵌入式迁移，每个文件一个事务。
func (s *MySQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaMigrationsSQL); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	rows.Close()

	steps, err := loadMigrationSteps(embeddedMigrations)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if _, done := applied[step.version]; done {
			continue
		}
		if err := s.applyMigration(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) applyMigration(ctx context.Context, step migrationStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range step.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", step.file, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, step.version, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

func loadMigrationSteps(files fs.ReadFileFS) ([]migrationStep, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	steps := make([]migrationStep, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		steps = append(steps, migrationStep{
			version:    migrationVersion(name),
			file:       name,
			statements: statements,
		})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func splitStatements(content string) []string {
	var statements []string
	for _, raw := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(raw); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// migrationVersion 取文件名中第一个下划线之前的编号，例如 0001_create_ledger.sql -> 0001。
func migrationVersion(name string) string {
	name = strings.TrimSuffix(name, ".sql")
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		return name[:idx]
	}
	return name
}
