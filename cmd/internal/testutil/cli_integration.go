//go:build integration

// Package testutil runs the drain-agent binary against a MySQL event table in containers.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/drain"
	"github.com/velmie/drain/mysql"
)

const (
	mysqlImage    = "mysql:8.0.36"
	mysqlAlias    = "mysql"
	mysqlPort     = nat.Port("3306/tcp")
	mysqlDatabase = "drain"
	mysqlPassword = "secret"
	agentImage    = "alpine:3.20"
	agentPath     = "/drain-agent"
	startTimeout  = 2 * time.Minute
)

// Env is a MySQL server on a private network shared with agent containers.
type Env struct {
	Network *testcontainers.DockerNetwork
	// DB is connected from the test process.
	DB *sql.DB
	// DSN reaches the server from containers on Network.
	DSN string
}

// dsn builds a DSN for the test database at addr.
func dsn(addr string) string {
	cfg := gomysql.NewConfig()
	cfg.User = "root"
	cfg.Passwd = mysqlPassword
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = mysqlDatabase
	cfg.ParseTime = true
	cfg.MultiStatements = true

	return cfg.FormatDSN()
}

// StartMySQLContainer starts MySQL on a new network. The test is skipped when
// Docker is unavailable.
func StartMySQLContainer(t *testing.T, ctx context.Context) Env {
	t.Helper()

	nw, err := network.New(ctx)
	if err != nil {
		t.Skipf("docker network unavailable: %v", err)
	}
	t.Cleanup(func() { _ = nw.Remove(ctx) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          mysqlImage,
			ExposedPorts:   []string{string(mysqlPort)},
			Env:            map[string]string{"MYSQL_ROOT_PASSWORD": mysqlPassword, "MYSQL_DATABASE": mysqlDatabase},
			Networks:       []string{nw.Name},
			NetworkAliases: map[string][]string{nw.Name: {mysqlAlias}},
			WaitingFor: wait.ForSQL(mysqlPort, "mysql", func(host string, port nat.Port) string {
				return dsn(net.JoinHostPort(host, port.Port()))
			}).WithStartupTimeout(startTimeout),
		},
	})
	if err != nil {
		t.Skipf("mysql container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = server.Terminate(ctx) })

	endpoint, err := server.PortEndpoint(ctx, mysqlPort, "")
	if err != nil {
		t.Fatalf("mysql endpoint: %v", err)
	}
	db, err := sql.Open("mysql", dsn(endpoint))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return Env{
		Network: nw,
		DB:      db,
		DSN:     dsn(net.JoinHostPort(mysqlAlias, mysqlPort.Port())),
	}
}

// BuildBinary cross-compiles the package in the working directory for Linux.
func BuildBinary(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("working dir: %v", err)
	}
	bin := filepath.Join(t.TempDir(), filepath.Base(wd))
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build agent: %v\n%s", err, out)
	}

	return bin
}

// RunAgent runs the binary with args on the env network until it exits and
// returns its exit code and combined output.
func RunAgent(t *testing.T, ctx context.Context, env Env, binary string, args ...string) (int, string) {
	t.Helper()

	agent, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      agentImage,
			Entrypoint: []string{agentPath},
			Cmd:        args,
			Networks:   []string{env.Network.Name},
			Files:      []testcontainers.ContainerFile{{HostFilePath: binary, ContainerFilePath: agentPath, FileMode: 0o755}},
			WaitingFor: wait.ForExit().WithExitTimeout(startTimeout),
		},
	})
	if err != nil {
		t.Fatalf("start agent container: %v", err)
	}
	t.Cleanup(func() { _ = agent.Terminate(ctx) })

	logs, err := agent.Logs(ctx)
	if err != nil {
		t.Fatalf("agent logs: %v", err)
	}
	defer logs.Close()
	out, err := io.ReadAll(logs)
	if err != nil {
		t.Fatalf("agent logs: %v", err)
	}
	state, err := agent.State(ctx)
	if err != nil {
		t.Fatalf("agent state: %v", err)
	}

	return state.ExitCode, string(out)
}

// CreateChannel applies the channel schema for table and returns a channel on db.
func CreateChannel(t *testing.T, ctx context.Context, db *sql.DB, table string) *mysql.Channel {
	t.Helper()

	schema, err := mysql.Schema(table)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	ch, err := mysql.NewChannel(db, mysql.WithTable(table))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	return ch
}

// PutEvents inserts one event per body in a single transaction.
func PutEvents(t *testing.T, ctx context.Context, db *sql.DB, ch *mysql.Channel, bodies ...string) []uuid.UUID {
	t.Helper()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	ids := make([]uuid.UUID, 0, len(bodies))
	for _, body := range bodies {
		id, err := ch.Put(ctx, tx, drain.Event{Body: []byte(body)})
		if err != nil {
			_ = tx.Rollback()
			t.Fatalf("put: %v", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	return ids
}

// MarkDrained flags a row as drained at ts.
func MarkDrained(t *testing.T, ctx context.Context, db *sql.DB, table string, id uuid.UUID, ts time.Time) {
	t.Helper()

	// #nosec G201 -- table name comes from the test.
	query := fmt.Sprintf("UPDATE %s SET status = 1, drained_at = ? WHERE id = ?", table)
	if _, err := db.ExecContext(ctx, query, ts, id[:]); err != nil {
		t.Fatalf("mark drained: %v", err)
	}
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, ctx context.Context, db *sql.DB, table string) int {
	t.Helper()

	var count int
	// #nosec G201 -- table name comes from the test.
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}

	return count
}
