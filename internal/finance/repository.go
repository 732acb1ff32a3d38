package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/internal/platform/db"
	"github.com/finsight-ai/finsight/internal/shared"
)

// Repository provides PostgreSQL backed persistence for financial data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var recordColumns = `id, source, period_start, period_end, currency,
	revenue, expenses, net_profit, raw_data, created_at, updated_at`

// sortFields whitelists sortable record columns.
var sortFields = map[string]string{
	"period_start": "period_start",
	"period_end":   "period_end",
	"revenue":      "revenue",
	"expenses":     "expenses",
	"net_profit":   "net_profit",
	"created_at":   "created_at",
}

// UpsertRecord writes a record, its accounts and account values in one
// transaction. Account values for the record are replaced wholesale.
// Returns true when the record was newly created.
func (r *Repository) UpsertRecord(ctx context.Context, rec *FinancialRecord, accounts []Account, values []AccountValue) (bool, error) {
	var created bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, a := range accounts {
			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (account_id, name, account_type, parent_account_id, source, description, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
				ON CONFLICT (account_id) DO UPDATE SET
					name = EXCLUDED.name,
					account_type = EXCLUDED.account_type,
					parent_account_id = EXCLUDED.parent_account_id,
					description = EXCLUDED.description,
					is_active = EXCLUDED.is_active,
					updated_at = NOW()`,
				a.AccountID, a.Name, a.AccountType, a.ParentAccountID, a.Source, a.Description, a.IsActive)
			if err != nil {
				return fmt.Errorf("upsert account %s: %w", a.AccountID, err)
			}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO financial_records (id, source, period_start, period_end, currency, revenue, expenses, net_profit, raw_data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			ON CONFLICT (source, period_start, period_end, currency) DO UPDATE SET
				revenue = EXCLUDED.revenue,
				expenses = EXCLUDED.expenses,
				net_profit = EXCLUDED.net_profit,
				raw_data = EXCLUDED.raw_data,
				updated_at = NOW()
			RETURNING (xmax = 0), created_at, updated_at`,
			rec.ID, rec.Source, rec.PeriodStart, rec.PeriodEnd, rec.Currency,
			rec.Revenue, rec.Expenses, rec.NetProfit, rec.RawData,
		).Scan(&created, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM account_values WHERE financial_record_id = $1`, rec.ID); err != nil {
			return fmt.Errorf("clear account values: %w", err)
		}
		for _, v := range values {
			_, err := tx.Exec(ctx, `
				INSERT INTO account_values (account_id, financial_record_id, value, created_at)
				VALUES ($1, $2, $3, NOW())`,
				v.AccountID, rec.ID, v.Value)
			if err != nil {
				return fmt.Errorf("insert account value %s: %w", v.AccountID, err)
			}
		}
		return nil
	})
	if err != nil {
		if db.IsTransient(err) {
			return false, fmt.Errorf("%w: %v", shared.ErrStoreTransient, err)
		}
		return false, err
	}
	return created, nil
}

// UpsertAccounts writes accounts outside a record transaction, used when
// merging the account forest from a losing source.
func (r *Repository) UpsertAccounts(ctx context.Context, accounts []Account) error {
	for _, a := range accounts {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO accounts (account_id, name, account_type, parent_account_id, source, description, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			ON CONFLICT (account_id) DO UPDATE SET
				name = EXCLUDED.name,
				account_type = EXCLUDED.account_type,
				parent_account_id = EXCLUDED.parent_account_id,
				description = EXCLUDED.description,
				is_active = EXCLUDED.is_active,
				updated_at = NOW()`,
			a.AccountID, a.Name, a.AccountType, a.ParentAccountID, a.Source, a.Description, a.IsActive)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", a.AccountID, err)
		}
	}
	return nil
}

// UpdateRawData replaces a record's raw_data without touching scalars or
// account values.
func (r *Repository) UpdateRawData(ctx context.Context, id string, raw map[string]any) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE financial_records SET raw_data = $2, updated_at = NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("update raw data %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s", shared.ErrNotFound, id)
	}
	return nil
}

// FindOverlapping returns a record covering the exact same period and
// currency from a different source, if one exists.
func (r *Repository) FindOverlapping(ctx context.Context, start, end time.Time, currency string, exclude SourceType) (*FinancialRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM financial_records
		WHERE period_start = $1 AND period_end = $2 AND currency = $3 AND source <> $4
		LIMIT 1`, start, end, currency, exclude)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeleteRecord removes a record; account values cascade.
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM financial_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s", shared.ErrNotFound, id)
	}
	return nil
}

// GetRecord retrieves a record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (*FinancialRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM financial_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", shared.ErrNotFound, id)
	}
	return rec, err
}

// GetRecordByKey retrieves a record by its natural key.
func (r *Repository) GetRecordByKey(ctx context.Context, source SourceType, start, end time.Time, currency string) (*FinancialRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM financial_records
		WHERE source = $1 AND period_start = $2 AND period_end = $3 AND currency = $4`,
		source, start, end, currency)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: record for %s %s..%s %s", shared.ErrNotFound,
			source, start.Format("2006-01-02"), end.Format("2006-01-02"), currency)
	}
	return rec, err
}

// FindRecords returns filtered records and the total match count.
func (r *Repository) FindRecords(ctx context.Context, f RecordFilter) ([]FinancialRecord, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argNum := 1

	add := func(clause string, value any) {
		where += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}

	if f.Source != "" {
		add(" AND source = $%d", f.Source)
	}
	if !f.PeriodFrom.IsZero() {
		add(" AND period_end >= $%d", f.PeriodFrom)
	}
	if !f.PeriodTo.IsZero() {
		add(" AND period_start <= $%d", f.PeriodTo)
	}
	if f.Currency != "" {
		add(" AND currency = $%d", f.Currency)
	}
	if f.MinRevenue != nil {
		add(" AND revenue >= $%d", *f.MinRevenue)
	}
	if f.MaxRevenue != nil {
		add(" AND revenue <= $%d", *f.MaxRevenue)
	}
	if f.MinExpenses != nil {
		add(" AND expenses >= $%d", *f.MinExpenses)
	}
	if f.MaxExpenses != nil {
		add(" AND expenses <= $%d", *f.MaxExpenses)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM financial_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	sortCol, ok := sortFields[f.SortField]
	if !ok {
		sortCol = "period_start"
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}

	pg := shared.NewPagination(f.Page, f.PageSize, total)
	query := fmt.Sprintf(`SELECT %s FROM financial_records%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		recordColumns, where, sortCol, dir, argNum, argNum+1)
	args = append(args, pg.PerPage, pg.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("find records: %w", err)
	}
	defer rows.Close()

	var records []FinancialRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

// AggregateRange sums records whose periods overlap [start, end].
func (r *Repository) AggregateRange(ctx context.Context, start, end time.Time, source SourceType, currency string) (PeriodSummary, error) {
	where := ` WHERE period_end >= $1 AND period_start <= $2`
	args := []any{start, end}
	if source != "" {
		args = append(args, source)
		where += fmt.Sprintf(` AND source = $%d`, len(args))
	}
	if currency != "" {
		args = append(args, currency)
		where += fmt.Sprintf(` AND currency = $%d`, len(args))
	}

	var s PeriodSummary
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(revenue), 0), COALESCE(SUM(expenses), 0),
			COALESCE(SUM(net_profit), 0), COUNT(*),
			COALESCE(ARRAY_AGG(DISTINCT source) FILTER (WHERE source IS NOT NULL), '{}')
		FROM financial_records`+where, args...,
	).Scan(&s.Revenue, &s.Expenses, &s.NetProfit, &s.Count, &s.Sources)
	if err != nil {
		return PeriodSummary{}, fmt.Errorf("aggregate range: %w", err)
	}
	return s, nil
}

// MonthlySeries buckets overlapping records by the month of period_start.
func (r *Repository) MonthlySeries(ctx context.Context, start, end time.Time, source SourceType, currency string) ([]MonthlyPoint, error) {
	where := ` WHERE period_end >= $1 AND period_start <= $2`
	args := []any{start, end}
	if source != "" {
		args = append(args, source)
		where += fmt.Sprintf(` AND source = $%d`, len(args))
	}
	if currency != "" {
		args = append(args, currency)
		where += fmt.Sprintf(` AND currency = $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT TO_CHAR(DATE_TRUNC('month', period_start), 'YYYY-MM') AS month,
			SUM(revenue), SUM(expenses), SUM(net_profit), COUNT(*)
		FROM financial_records`+where+`
		GROUP BY 1 ORDER BY 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("monthly series: %w", err)
	}
	defer rows.Close()

	var points []MonthlyPoint
	for rows.Next() {
		var p MonthlyPoint
		if err := rows.Scan(&p.Month, &p.Revenue, &p.Expenses, &p.NetProfit, &p.Count); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// CategoryTotals rolls account values up to their root accounts for the
// given account type over an overlapping period range.
func (r *Repository) CategoryTotals(ctx context.Context, start, end time.Time, accountType AccountType) ([]CategoryTotal, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE roots AS (
			SELECT account_id, account_id AS root_id, name AS root_name, 0 AS depth
			FROM accounts WHERE parent_account_id IS NULL
			UNION ALL
			SELECT a.account_id, r.root_id, r.root_name, r.depth + 1
			FROM accounts a
			JOIN roots r ON a.parent_account_id = r.account_id
			WHERE r.depth < 16
		)
		SELECT r.root_id, r.root_name, COALESCE(SUM(av.value), 0) AS total
		FROM account_values av
		JOIN accounts a ON a.account_id = av.account_id
		JOIN roots r ON r.account_id = av.account_id
		JOIN financial_records fr ON fr.id = av.financial_record_id
		WHERE a.account_type = $1 AND fr.period_end >= $2 AND fr.period_start <= $3
		GROUP BY r.root_id, r.root_name
		ORDER BY total DESC`,
		accountType, start, end)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var t CategoryTotal
		if err := rows.Scan(&t.AccountID, &t.Name, &t.Total); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

var accountColumns = `account_id, name, account_type, parent_account_id, source,
	COALESCE(description, ''), is_active, created_at, updated_at`

// GetAccount retrieves an account by id.
func (r *Repository) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", shared.ErrNotFound, id)
	}
	return a, err
}

// FindAccounts returns filtered accounts and the total match count.
func (r *Repository) FindAccounts(ctx context.Context, f AccountFilter) ([]Account, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argNum := 1

	add := func(clause string, value any) {
		where += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}

	if f.Type != "" {
		add(" AND account_type = $%d", f.Type)
	}
	if f.Source != "" {
		add(" AND source = $%d", f.Source)
	}
	if f.Active != nil {
		add(" AND is_active = $%d", *f.Active)
	}
	if f.Name != "" {
		add(" AND name ILIKE $%d", "%"+f.Name+"%")
	}
	if f.ParentID != "" {
		add(" AND parent_account_id = $%d", f.ParentID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	pg := shared.NewPagination(f.Page, f.PageSize, total)
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY name, account_id LIMIT $%d OFFSET $%d`,
		accountColumns, where, argNum, argNum+1)
	args = append(args, pg.PerPage, pg.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("find accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, total, rows.Err()
}

// Subtree returns the account plus all descendants, depth-capped so a
// corrupted parent cycle cannot loop forever.
func (r *Repository) Subtree(ctx context.Context, rootID string) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE tree (account_id, name, account_type, parent_account_id, source, description, is_active, created_at, updated_at, depth) AS (
			SELECT `+accountColumns+`, 0 FROM accounts WHERE account_id = $1
			UNION ALL
			SELECT `+subtreeChildColumns+`, t.depth + 1
			FROM accounts a
			JOIN tree t ON a.parent_account_id = t.account_id
			WHERE t.depth < 16
		)
		SELECT account_id, name, account_type, parent_account_id, source, description, is_active, created_at, updated_at
		FROM tree ORDER BY depth, name`, rootID)
	if err != nil {
		return nil, fmt.Errorf("account subtree: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: account %s", shared.ErrNotFound, rootID)
	}
	return accounts, nil
}

var subtreeChildColumns = `a.account_id, a.name, a.account_type, a.parent_account_id, a.source,
	COALESCE(a.description, ''), a.is_active, a.created_at, a.updated_at`

// AccountValues returns the per-account breakdown for a record.
func (r *Repository) AccountValues(ctx context.Context, recordID string) ([]AccountValue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, financial_record_id, value, created_at
		FROM account_values WHERE financial_record_id = $1 ORDER BY account_id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("account values: %w", err)
	}
	defer rows.Close()

	var values []AccountValue
	for rows.Next() {
		var v AccountValue
		if err := rows.Scan(&v.AccountID, &v.FinancialRecordID, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanRecord(row pgx.Row) (*FinancialRecord, error) {
	var rec FinancialRecord
	err := row.Scan(&rec.ID, &rec.Source, &rec.PeriodStart, &rec.PeriodEnd, &rec.Currency,
		&rec.Revenue, &rec.Expenses, &rec.NetProfit, &rec.RawData, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.AccountID, &a.Name, &a.AccountType, &a.ParentAccountID, &a.Source,
		&a.Description, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
