// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrCardNotFound возвращается, если карта не существует, удалена или
	// принадлежит другому пользователю.
	ErrCardNotFound = errors.New("bank card not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
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

		// Если ошибка контекста — выходим сразу
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateCard сохраняет новую карту пользователя. Валидация данных карты
// выполняется до вызова; сюда попадают только корректные значения.
func (r *PostgresRepository) CreateCard(ctx context.Context, userID int64, bankName, lastFourDigits string, cardHolderName *string) (*model.BankCard, error) {
	id := uuid.NewString()

	var card model.BankCard
	err := r.pool.QueryRow(ctx,
		`INSERT INTO bank_cards (id, user_id, bank_name, last_four_digits, card_holder_name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, bank_name, last_four_digits, card_holder_name, is_active, created_at, updated_at`,
		id, userID, bankName, lastFourDigits, cardHolderName,
	).Scan(&card.ID, &card.BankName, &card.LastFourDigits, &card.CardHolderName, &card.IsActive, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}

	return &card, nil
}

// GetCardsByUser возвращает карты пользователя вместе с их ставками кэшбэка.
// Мягко удалённые карты и ставки в выборку не попадают.
func (r *PostgresRepository) GetCardsByUser(ctx context.Context, userID int64) ([]model.BankCard, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, bank_name, last_four_digits, card_holder_name, is_active, created_at, updated_at
		 FROM bank_cards
		 WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	defer rows.Close()

	var cards []model.BankCard
	index := make(map[string]int)
	for rows.Next() {
		var c model.BankCard
		if err := rows.Scan(&c.ID, &c.BankName, &c.LastFourDigits, &c.CardHolderName, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		index[c.ID] = len(cards)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(cards) == 0 {
		return cards, nil
	}

	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}

	rateRows, err := r.pool.Query(ctx,
		`SELECT id, bank_card_id, mcc_code, category_name, cashback_percent,
		        valid_from, valid_until, is_active, created_at, updated_at
		 FROM cashback_rates
		 WHERE bank_card_id = ANY($1) AND deleted_at IS NULL
		 ORDER BY created_at`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select rates: %w", err)
	}
	defer rateRows.Close()

	for rateRows.Next() {
		var rt model.CashbackRate
		if err := rateRows.Scan(&rt.ID, &rt.BankCardID, &rt.MCCCode, &rt.CategoryName, &rt.CashbackPercent,
			&rt.ValidFrom, &rt.ValidUntil, &rt.IsActive, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		if i, ok := index[rt.BankCardID]; ok {
			cards[i].Rates = append(cards[i].Rates, rt)
		}
	}
	if err := rateRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cards, nil
}

// DeleteCard мягко удаляет карту пользователя вместе с её ставками кэшбэка:
// карта — владеющая сторона связи.
func (r *PostgresRepository) DeleteCard(ctx context.Context, userID int64, cardID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE bank_cards
		 SET deleted_at = now(), is_active = FALSE, updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		cardID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCardNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE cashback_rates
		 SET deleted_at = now(), is_active = FALSE, updated_at = now()
		 WHERE bank_card_id = $1 AND deleted_at IS NULL`,
		cardID,
	)
	if err != nil {
		return fmt.Errorf("delete card rates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateCashbackRate добавляет карте пользователя ставку кэшбэка. Возвращает
// ErrCardNotFound, если карта не принадлежит пользователю или удалена.
func (r *PostgresRepository) CreateCashbackRate(ctx context.Context, userID int64, cardID string, rate model.CashbackRate) (*model.CashbackRate, error) {
	var dummy int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM bank_cards WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		cardID, userID,
	).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("check card owner: %w", err)
	}

	id := uuid.NewString()

	var created model.CashbackRate
	err = r.pool.QueryRow(ctx,
		`INSERT INTO cashback_rates (id, bank_card_id, mcc_code, category_name, cashback_percent, valid_from, valid_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, bank_card_id, mcc_code, category_name, cashback_percent,
		           valid_from, valid_until, is_active, created_at, updated_at`,
		id, cardID, rate.MCCCode, rate.CategoryName, rate.CashbackPercent, rate.ValidFrom, rate.ValidUntil,
	).Scan(&created.ID, &created.BankCardID, &created.MCCCode, &created.CategoryName, &created.CashbackPercent,
		&created.ValidFrom, &created.ValidUntil, &created.IsActive, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create rate: %w", err)
	}

	return &created, nil
}

// AddSignalHistory сохраняет запись истории определений. Таблица только
// пополняется, записи никогда не изменяются.
func (r *PostgresRepository) AddSignalHistory(ctx context.Context, userID int64, res *model.DetectionResult, merchant *model.Merchant) error {
	var merchantName, mccCode *string
	if merchant != nil {
		merchantName = &merchant.Name
		mccCode = &merchant.MCCCode
	}

	var major, minor *int32
	if res.BluetoothMajor != nil {
		v := int32(*res.BluetoothMajor)
		major = &v
	}
	if res.BluetoothMinor != nil {
		v := int32(*res.BluetoothMinor)
		minor = &v
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO wireless_signals
			 (id, user_id, detection_method, confidence,
			  wifi_ssid, wifi_bssid, wifi_rssi,
			  bluetooth_uuid, bluetooth_major, bluetooth_minor,
			  nfc_terminal_id, merchant_name, mcc_code,
			  latitude, longitude, gps_accuracy, detected_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			uuid.NewString(), userID, string(res.Method), res.Confidence,
			res.WifiSSID, res.WifiBSSID, res.WifiRSSI,
			res.BluetoothUUID, major, minor,
			res.NFCTerminalID, merchantName, mccCode,
			res.Latitude, res.Longitude, res.GPSAccuracy, res.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert signal history: %w", err)
		}
		return nil
	})
}

// GetWidgetStats возвращает статистику виджета пользователя. Для
// пользователя без записи возвращается нулевая статистика.
func (r *PostgresRepository) GetWidgetStats(ctx context.Context, userID int64) (*model.WidgetStats, error) {
	var s model.WidgetStats
	err := r.pool.QueryRow(ctx,
		`SELECT total_uses, estimated_savings, last_used_at FROM widget_stats WHERE user_id = $1`,
		userID,
	).Scan(&s.TotalUses, &s.EstimatedSavings, &s.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.WidgetStats{}, nil
		}
		return nil, fmt.Errorf("get widget stats: %w", err)
	}
	return &s, nil
}

// RecordWidgetUse увеличивает счётчик использований виджета и накапливает
// оценку сэкономленного.
func (r *PostgresRepository) RecordWidgetUse(ctx context.Context, userID int64, savings float64) (*model.WidgetStats, error) {
	var s model.WidgetStats
	err := r.pool.QueryRow(ctx,
		`INSERT INTO widget_stats (user_id, total_uses, estimated_savings, last_used_at)
		 VALUES ($1, 1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET total_uses = widget_stats.total_uses + 1,
		     estimated_savings = widget_stats.estimated_savings + EXCLUDED.estimated_savings,
		     last_used_at = now(),
		     updated_at = now()
		 RETURNING total_uses, estimated_savings, last_used_at`,
		userID, savings,
	).Scan(&s.TotalUses, &s.EstimatedSavings, &s.LastUsedAt)
	if err != nil {
		return nil, fmt.Errorf("record widget use: %w", err)
	}
	return &s, nil
}
