package pg

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/domain"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var storage *Storage

func TestMain(m *testing.M) {
	ctx := context.Background()
	var container *postgres.PostgresContainer
	storage, container = mustSetup(ctx)

	exitCode := m.Run()
	teardown(ctx, storage, container)
	os.Exit(exitCode)
}

func mustSetup(ctx context.Context) (*Storage, *postgres.PostgresContainer) {
	dbName := "forum"
	dbUser := "user"
	dbPassword := "password"
	container, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithInitScripts(filepath.Join("migrations", "init.sql")),
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			// First, we wait for the container to log readiness twice.
			// This is because it will restart itself after the first startup.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start container: %s", err)
	}
	containerPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("failed to obtain container port: %s", err)
	}
	port, err := strconv.Atoi(containerPort.Port())
	if err != nil {
		log.Fatalf("failed to obtain int container port: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to obtain container host: %s", err)
	}

	storage, err := New(config.Pg{Host: host, Port: port, User: dbUser, Password: dbPassword, Dbname: dbName})
	if err != nil {
		log.Fatalf("failed to connect to postgres container: %s", err)
	}
	return storage, container
}

func teardown(ctx context.Context, storage *Storage, container *postgres.PostgresContainer) {
	if err := storage.Cleanup(); err != nil {
		log.Printf("failed to close storage connection: %s", err)
	}
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
}

// --- seed helpers ---

func createMember(t *testing.T, name string, admin bool, groups ...domain.GroupId) domain.UserId {
	t.Helper()
	if groups == nil {
		groups = []domain.GroupId{}
	}
	var id domain.UserId
	err := storage.db.QueryRow(`INSERT INTO members(name, is_admin, member_groups) VALUES($1, $2, $3) RETURNING id`,
		name, admin, pq.Array(groups)).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() { storage.db.Exec(`DELETE FROM members WHERE id = $1`, id) })
	return id
}

// createBoard makes a board, public when groups is nil.
func createBoard(t *testing.T, groups []domain.GroupId) domain.BoardId {
	t.Helper()
	var allowed any
	if groups != nil {
		allowed = pq.Array(groups)
	}
	var id domain.BoardId
	err := storage.db.QueryRow(`INSERT INTO boards(name, member_groups) VALUES('board', $1) RETURNING id`, allowed).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() { storage.db.Exec(`DELETE FROM boards WHERE id = $1`, id) })
	return id
}

func createTopic(t *testing.T, board domain.BoardId) domain.TopicId {
	t.Helper()
	var id domain.TopicId
	require.NoError(t, storage.db.QueryRow(`INSERT INTO topics(board_id) VALUES($1) RETURNING id`, board).Scan(&id))
	return id
}

func createMessage(t *testing.T, topic domain.TopicId, board domain.BoardId, poster domain.UserId, subject string) domain.MsgId {
	t.Helper()
	var id domain.MsgId
	err := storage.db.QueryRow(`
	INSERT INTO messages(topic_id, board_id, member_id, subject, body) VALUES($1, $2, $3, $4, 'body')
	RETURNING id`, topic, board, poster, subject).Scan(&id)
	require.NoError(t, err)
	return id
}
