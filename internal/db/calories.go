package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bborn/textline/internal/models"
)

// Calories is the daily nutrition counter. Days are plain YYYY-MM-DD
// strings; the caller decides which time zone they belong to.
type Calories struct {
	db            *DB
	defaultTarget int
}

func (db *DB) Calories(defaultTarget int) *Calories {
	return &Calories{db: db, defaultTarget: defaultTarget}
}

// Day returns the counter for the day, without creating it
func (c *Calories) Day(ctx context.Context, phone, day string) (models.DayTotal, error) {
	return c.load(ctx, c.db.conn, phone, day)
}

// Add increases the day's total and returns the updated counter
func (c *Calories) Add(ctx context.Context, phone, day string, calories int) (models.DayTotal, error) {
	return c.update(ctx, phone, day, func(d *models.DayTotal) {
		d.Total += calories
		if d.Total < 0 {
			d.Total = 0
		}
	})
}

// Subtract lowers the day's total, stopping at zero
func (c *Calories) Subtract(ctx context.Context, phone, day string, calories int) (models.DayTotal, error) {
	return c.update(ctx, phone, day, func(d *models.DayTotal) {
		d.Total -= calories
		if d.Total < 0 {
			d.Total = 0
		}
	})
}

// SetTarget changes the day's target
func (c *Calories) SetTarget(ctx context.Context, phone, day string, target int) (models.DayTotal, error) {
	return c.update(ctx, phone, day, func(d *models.DayTotal) {
		d.Target = target
	})
}

// Reset zeroes the day's total and returns what it was before
func (c *Calories) Reset(ctx context.Context, phone, day string) (int, error) {
	var previous int
	_, err := c.update(ctx, phone, day, func(d *models.DayTotal) {
		previous = d.Total
		d.Total = 0
	})
	return previous, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Calories) load(ctx context.Context, q queryer, phone, day string) (models.DayTotal, error) {
	d := models.DayTotal{Phone: phone, Day: day, Target: c.defaultTarget}
	err := q.QueryRowContext(ctx,
		`SELECT total, target FROM daily_calories WHERE phone = ? AND day = ?`, phone, day,
	).Scan(&d.Total, &d.Target)
	if err != sql.ErrNoRows {
		return d, err
	}

	// A new day starts from the most recent target the sender set
	err = q.QueryRowContext(ctx,
		`SELECT target FROM daily_calories WHERE phone = ? ORDER BY day DESC LIMIT 1`, phone,
	).Scan(&d.Target)
	if err == sql.ErrNoRows {
		return d, nil
	}
	return d, err
}

func (c *Calories) update(ctx context.Context, phone, day string, fn func(*models.DayTotal)) (models.DayTotal, error) {
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.DayTotal{}, err
	}
	defer tx.Rollback()

	d, err := c.load(ctx, tx, phone, day)
	if err != nil {
		return models.DayTotal{}, fmt.Errorf("failed to load calories for %s: %w", day, err)
	}

	fn(&d)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily_calories (phone, day, total, target, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(phone, day) DO UPDATE SET total = excluded.total, target = excluded.target, updated_at = excluded.updated_at`,
		phone, day, d.Total, d.Target,
	)
	if err != nil {
		return models.DayTotal{}, fmt.Errorf("failed to save calories for %s: %w", day, err)
	}

	return d, tx.Commit()
}
