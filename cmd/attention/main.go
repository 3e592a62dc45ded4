// attention: Lambda read-only con los handle_ops que quedaron marcados para revisión manual.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jose-valero/lfg-queue-bot/pkg/logging"
)

var (
	db          *pgxpool.Pool
	log         = logging.New(os.Stdout, logging.ParseLevel(os.Getenv("LOG_LEVEL")))
	secretHdr   = strings.ToLower(getenv("ATTENTION_HEADER_NAME", "x-ops-token"))
	secretValue = os.Getenv("ATTENTION_HEADER_VALUE")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Warn("DATABASE_URL empty; every request will fail")
		return
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error("pgx ParseConfig", "err", err)
		return
	}
	cfg.MaxConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Error("pgxpool New", "err", err)
		return
	}
	db = pool
}

type attentionOp struct {
	Kind      string    `json:"kind"`
	GuildID   string    `json:"guild_id"`
	QueueID   string    `json:"queue_id"`
	HandleID  string    `json:"handle_id,omitempty"`
	MemberID  string    `json:"member_id,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// API Gateway v2 baja los headers a minúscula, igual probamos los dos
func readSecret(req events.APIGatewayV2HTTPRequest) string {
	if v := req.Headers[secretHdr]; v != "" {
		return v
	}
	return req.Headers[strings.ToUpper(secretHdr)]
}

// guildsParam: ?guilds=a,b,c
func guildsParam(req events.APIGatewayV2HTTPRequest) []string {
	var out []string
	for _, g := range strings.Split(req.QueryStringParameters["guilds"], ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func respond(code int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: code,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log.Info("attention hit", "path", req.RawPath, "ip", req.RequestContext.HTTP.SourceIP)

	got := readSecret(req)
	if secretValue == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secretValue)) != 1 {
		return respond(401, map[string]string{"error": "unauthorized"}), nil
	}
	if db == nil {
		return respond(503, map[string]string{"error": "no database"}), nil
	}

	qctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	guilds := guildsParam(req)
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `kind, guild_id, queue_id, handle_id, member_id, attempts, last_error, updated_at`
	if len(guilds) == 0 {
		rows, err = db.Query(qctx, `SELECT `+cols+` FROM handle_ops WHERE needs_attention ORDER BY updated_at DESC LIMIT 200`)
	} else {
		rows, err = db.Query(qctx, `SELECT `+cols+` FROM handle_ops WHERE needs_attention AND guild_id = ANY($1) ORDER BY updated_at DESC LIMIT 200`, guilds)
	}
	if err != nil {
		log.Error("attention query", "err", err)
		return respond(500, map[string]string{"error": "internal error"}), nil
	}

	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (attentionOp, error) {
		var op attentionOp
		err := row.Scan(&op.Kind, &op.GuildID, &op.QueueID, &op.HandleID, &op.MemberID, &op.Attempts, &op.LastError, &op.UpdatedAt)
		return op, err
	})
	if err != nil {
		log.Error("attention scan", "err", err)
		return respond(500, map[string]string{"error": "internal error"}), nil
	}
	if ops == nil {
		ops = []attentionOp{}
	}
	return respond(200, map[string]any{"ops": ops}), nil
}

func main() { lambda.Start(handler) }
