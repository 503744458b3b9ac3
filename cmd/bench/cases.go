// README: Bench cases: backing services, health, metrics and concurrent transition races.
package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *resty.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(10 * time.Second),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				for _, table := range []string{"orders", "order_gps_samples", "order_state_events", "disputes", "dispute_votes", "actor_roles", "courier_stakes", "delivery_rates"} {
					var ok bool
					err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !ok {
						return Result{Status: "FAIL", Note: "missing table " + table}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "HTTP: /health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.R().SetContext(ctx).Get("/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if resp.StatusCode() != http.StatusOK {
					return Result{Status: "FAIL", Note: resp.Status()}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "HTTP: /metrics exposes ledger counters",
			Run: func(ctx context.Context, r *Runner) Result {
				resp, err := r.httpc.R().SetContext(ctx).Get("/metrics")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if !strings.Contains(resp.String(), "dropchain_ledger_calls_total") {
					return Result{Status: "FAIL", Note: "dropchain_ledger_calls_total not exported yet"}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Race: concurrent ConfirmPreparation has one winner",
			Run:  raceConfirmPreparation,
		},
	}
}

type orderCreated struct {
	OrderID int64 `json:"order_id"`
}

func raceConfirmPreparation(ctx context.Context, r *Runner) Result {
	if r.cfg.ClientToken == "" || r.cfg.MerchantToken == "" || r.cfg.MerchantID == "" {
		return Result{Status: "SKIP", Note: "client/merchant tokens not configured"}
	}
	var created orderCreated
	resp, err := r.httpc.R().SetContext(ctx).
		SetAuthToken(r.cfg.ClientToken).
		SetBody(map[string]any{
			"merchant_id": r.cfg.MerchantID,
			"line_items":  []map[string]any{{"name": "bench item", "quantity": 1, "unit_price": 100}},
			"breakdown": map[string]any{
				"goods_amount": 100, "delivery_fee": 45, "platform_fee": 3, "total_amount": 148, "currency": "TWD",
			},
		}).
		SetResult(&created).
		Post("/api/orders")
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if resp.StatusCode() != http.StatusCreated {
		return Result{Status: "FAIL", Note: "create: " + resp.Status()}
	}

	start := time.Now()
	codes := make(chan int, r.cfg.Concurrency)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			resp, err := r.httpc.R().SetContext(ctx).
				SetAuthToken(r.cfg.MerchantToken).
				Post(fmt.Sprintf("/api/orders/%d/prepare", created.OrderID))
			if err != nil {
				codes <- 0
				return
			}
			codes <- resp.StatusCode()
		}()
	}
	close(gate)
	wg.Wait()
	close(codes)

	ok, conflict, other := 0, 0, 0
	for c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			other++
		}
	}
	note := fmt.Sprintf("order=%d ok=%d conflict=%d other=%d", created.OrderID, ok, conflict, other)
	if ok != 1 || other != 0 {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Latency: time.Since(start), Note: note}
}
