package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jose-valero/lfg-queue-bot/pkg/logging"
)

var log = logging.New(os.Stdout, logging.ParseLevel(os.Getenv("LOG_LEVEL")))

func handler(ctx context.Context) (string, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return "no DATABASE_URL", nil
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Sprintf("parse: %v", err), nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Sprintf("pool: %v", err), nil
	}
	defer pool.Close()

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := pool.Exec(cctx, `DELETE FROM lfg_events WHERE at < now() - INTERVAL '30 days';`)
	if err != nil {
		log.Error("janitor: events", "err", err)
	} else {
		log.Info("janitor: events trimmed", "rows", tag.RowsAffected())
	}

	// sync_member marcados de una cola que ya no existe: el rol se fue con la cola.
	// los delete_queue se quedan, son roles que alguien tiene que borrar a mano
	tag, err = pool.Exec(cctx, `
DELETE FROM handle_ops o
WHERE o.kind = 'sync_member'
  AND o.needs_attention
  AND o.updated_at < now() - INTERVAL '14 days'
  AND NOT EXISTS (SELECT 1 FROM lfg_queues q WHERE q.id = o.queue_id);`)
	if err != nil {
		log.Error("janitor: handle_ops", "err", err)
	} else {
		log.Info("janitor: stale attention ops dropped", "rows", tag.RowsAffected())
	}

	return "ok", nil
}

func main() { lambda.Start(handler) }
