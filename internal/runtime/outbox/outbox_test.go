package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-crm/crmbus/transport/transporttest"
)

func record(id string) Record {
	return Record{
		ID:        id,
		Topic:     "lead.created",
		Payload:   []byte(`{"eventId":"` + id + `"}`),
		Metadata:  map[string]string{"event_type": "lead.created"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, record("a")))
	require.NoError(t, store.Save(ctx, record("b")))
	require.NoError(t, store.Save(ctx, record("a")))
	assert.Equal(t, 2, store.Len())

	pending, err := store.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	require.NoError(t, store.MarkPublished(ctx, []string{"a"}))
	pending, err = store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}

func TestRelayOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, record("a")))
	require.NoError(t, store.Save(ctx, record("b")))

	pub := &transporttest.Publisher{}
	var reported int
	relay := NewRelay(store, pub, nil, RelayConfig{})
	relay.OnPublished = func(n int) { reported += n }

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, reported)
	assert.Zero(t, store.Len())

	msgs := pub.Messages("lead.created")
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].UUID)
	assert.Equal(t, "lead.created", msgs[0].Metadata.Get("event_type"))
}

func TestRelayOnce_PublishFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, record("a")))

	relay := NewRelay(store, &transporttest.Publisher{Err: errors.New("broker down")}, nil, RelayConfig{})
	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.Len())
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, record("a")))

	relay := NewRelay(store, &transporttest.Publisher{}, nil, RelayConfig{Interval: 5 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayConfigDefaults(t *testing.T) {
	cfg := RelayConfig{}.withDefaults()
	assert.Equal(t, DefaultRelayInterval, cfg.Interval)
	assert.Equal(t, DefaultRelayBatchSize, cfg.BatchSize)
}

type fakeDB struct {
	execs []string
	args  [][]any
	rows  *fakeRows
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, arguments)
	return pgconn.NewCommandTag("UPDATE 1"), f.err
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeRows struct {
	records []Record
	pos     int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.records)
}

func (r *fakeRows) Scan(dest ...any) error {
	rec := r.records[r.pos-1]
	*dest[0].(*string) = rec.ID
	*dest[1].(*string) = rec.Topic
	*dest[2].(*[]byte) = rec.Payload
	*dest[3].(*[]byte) = []byte(`{"event_type":"lead.created"}`)
	*dest[4].(*time.Time) = rec.CreatedAt
	return nil
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: &fakeRows{records: []Record{record("a")}}}
	store := NewPostgresStore(db)

	require.NoError(t, store.Migrate(ctx))
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS crmbus_event_outbox")

	require.NoError(t, store.Save(ctx, record("a")))
	assert.Contains(t, db.execs[1], "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, "a", db.args[1][0])
	assert.JSONEq(t, `{"event_type":"lead.created"}`, string(db.args[1][3].([]byte)))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "lead.created", pending[0].Metadata["event_type"])

	require.NoError(t, store.MarkPublished(ctx, nil))
	assert.Len(t, db.execs, 2)
	require.NoError(t, store.MarkPublished(ctx, []string{"a"}))
	assert.Equal(t, []string{"a"}, db.args[2][0])
}

func TestPostgresStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresStore(&fakeDB{err: errors.New("connection refused")})

	assert.ErrorContains(t, store.Save(ctx, record("a")), "insert outbox record")
	_, err := store.Pending(ctx, 1)
	assert.ErrorContains(t, err, "query outbox")
	assert.ErrorContains(t, store.MarkPublished(ctx, []string{"a"}), "mark published")
}

var _ message.Publisher = (*transporttest.Publisher)(nil)
