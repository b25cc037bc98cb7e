package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

type PostgresShareRepo struct{ DB *sql.DB }

func NewPostgresShareRepo(db *sql.DB) *PostgresShareRepo { return &PostgresShareRepo{DB: db} }

// OpenPostgres connects through the pgx stdlib driver and pings the server.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *PostgresShareRepo) EnsureSchema(ctx context.Context) error {
	const q = `
create table if not exists shares (
	id          uuid primary key,
	question    text not null,
	answer_html text not null,
	summary     text not null default '',
	views       bigint not null default 0,
	created_at  timestamptz not null default now()
)`
	_, err := r.DB.ExecContext(ctx, q)
	return err
}

func (r *PostgresShareRepo) Insert(ctx context.Context, s Share) error {
	const q = `
insert into shares(id, question, answer_html, summary, created_at)
values ($1,$2,$3,$4,$5)`
	_, err := r.DB.ExecContext(ctx, q, s.ID, s.Question, s.AnswerHTML, s.Summary, s.CreatedAt)
	return err
}

func (r *PostgresShareRepo) Get(ctx context.Context, id string) (Share, error) {
	const q = `select id, question, answer_html, summary, views, created_at
	           from shares where id=$1`
	var s Share
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.Question, &s.AnswerHTML, &s.Summary, &s.Views, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Share{}, ErrNotFound
	}
	if err != nil {
		return Share{}, err
	}
	return s, nil
}

func (r *PostgresShareRepo) IncrementViews(ctx context.Context, id string) (int64, error) {
	const q = `update shares set views = views + 1 where id=$1 returning views`
	var views int64
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return views, err
}
