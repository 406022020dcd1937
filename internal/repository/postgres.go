// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvoiceNotFound возвращается, если счёт не найден.
var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrInvoiceExists возвращается при попытке создать счёт с уже занятым идентификатором.
	ErrInvoiceExists = errors.New("invoice already exists")
)

// PostgresRepository предоставляет доступ к хранилищу счетов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateInvoice сохраняет новый счёт в статусе PENDING.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	groups, err := json.Marshal(inv.Groups)
	if err != nil {
		return fmt.Errorf("marshal groups: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO invoices (invoice_id, user_id, amount, groups, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			inv.ID, inv.UserID, inv.Amount, groups, string(model.InvoiceStatusPending),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrInvoiceExists, inv.ID)
			}
			return fmt.Errorf("insert invoice: %w", err)
		}
		return nil
	})
}

// GetInvoice возвращает счёт по идентификатору.
func (r *PostgresRepository) GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT invoice_id, user_id, amount, groups, status, qr_payload, created_at, paid_at
		 FROM invoices WHERE invoice_id = $1`,
		invoiceID,
	)

	var (
		inv    model.Invoice
		groups []byte
		status string
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.Amount, &groups, &status, &inv.QRPayload, &inv.CreatedAt, &inv.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	if err := json.Unmarshal(groups, &inv.Groups); err != nil {
		return nil, fmt.Errorf("unmarshal groups: %w", err)
	}
	inv.Status = model.InvoiceStatus(status)

	return &inv, nil
}

// MarkPaid переводит счёт в PAID и возвращает признак того, что счёт уже был
// оплачен ранее. Статус монотонный: оплаченный счёт не меняется.
func (r *PostgresRepository) MarkPaid(ctx context.Context, invoiceID string) (bool, error) {
	var alreadyPaid bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM invoices WHERE invoice_id = $1 FOR UPDATE`,
			invoiceID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return fmt.Errorf("lock invoice: %w", err)
		}

		if model.InvoiceStatus(status) == model.InvoiceStatusPaid {
			alreadyPaid = true
			return tx.Commit(ctx)
		}

		_, err = tx.Exec(ctx,
			`UPDATE invoices SET status = $2, paid_at = now() WHERE invoice_id = $1`,
			invoiceID, string(model.InvoiceStatusPaid),
		)
		if err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}

		alreadyPaid = false
		return tx.Commit(ctx)
	})
	if err != nil {
		return false, err
	}

	return alreadyPaid, nil
}

// UpdateQRPayload кеширует картинку QR на строке счёта.
func (r *PostgresRepository) UpdateQRPayload(ctx context.Context, invoiceID string, payload []byte) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE invoices SET qr_payload = $2 WHERE invoice_id = $1`,
		invoiceID, payload,
	)
	if err != nil {
		return fmt.Errorf("update qr payload: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// ListInvoices возвращает последние счета.
func (r *PostgresRepository) ListInvoices(ctx context.Context, limit int) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT invoice_id, user_id, amount, groups, status, created_at, paid_at
		 FROM invoices
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		var (
			inv    model.Invoice
			groups []byte
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.Amount, &groups, &status, &inv.CreatedAt, &inv.PaidAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		if err := json.Unmarshal(groups, &inv.Groups); err != nil {
			return nil, fmt.Errorf("unmarshal groups: %w", err)
		}
		inv.Status = model.InvoiceStatus(status)
		res = append(res, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddInviteLog сохраняет результат попытки отправки приглашения.
func (r *PostgresRepository) AddInviteLog(ctx context.Context, log *model.InviteLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invite_logs (invoice_id, group_id, invite_link, error)
		 VALUES ($1, $2, $3, $4)`,
		log.InvoiceID, log.GroupID, log.InviteLink, log.Error,
	)
	if err != nil {
		return fmt.Errorf("insert invite log: %w", err)
	}
	return nil
}

// ListInviteLogs возвращает историю приглашений по счёту.
func (r *PostgresRepository) ListInviteLogs(ctx context.Context, invoiceID string) ([]model.InviteLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT invoice_id, group_id, invite_link, error, created_at
		 FROM invite_logs
		 WHERE invoice_id = $1
		 ORDER BY id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invite logs: %w", err)
	}
	defer rows.Close()

	var res []model.InviteLog
	for rows.Next() {
		var l model.InviteLog
		if err := rows.Scan(&l.InvoiceID, &l.GroupID, &l.InviteLink, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invite log: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
