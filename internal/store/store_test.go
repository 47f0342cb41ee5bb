package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/roach88/courier/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"meta", "messages", "timeouts", "events"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMessage_InsertGetRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	msg := createTestQuery(1, "alice", 20)

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertMessage(ctx, msg)
	})
	if err != nil {
		t.Fatalf("InsertMessage() failed: %v", err)
	}

	got, ok, err := s.GetMessage(ctx, 1)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if !ok {
		t.Fatal("GetMessage() did not find record")
	}
	if got.Kind != ir.KindQuery || got.Origin != "alice" || got.Timeout != 20 {
		t.Errorf("GetMessage() = %+v", got)
	}
	if got.Callback == nil || *got.Callback != *msg.Callback {
		t.Errorf("callback = %+v, want %+v", got.Callback, msg.Callback)
	}
	if got.CallbackFee != msg.CallbackFee {
		t.Errorf("CallbackFee = %d, want %d", got.CallbackFee, msg.CallbackFee)
	}

	id, ok, err := s.FindByTransportRef(ctx, msg.TransportRef)
	if err != nil || !ok || id != 1 {
		t.Errorf("FindByTransportRef() = %d, %v, %v", id, ok, err)
	}
}

func TestMessage_GetMissing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.GetMessage(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if ok {
		t.Error("GetMessage() found a record that was never written")
	}
}

func TestMessage_UpdateToResponse(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	msg := createTestQuery(7, "bob", 30)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.UpdateMessage(ctx, ir.Message{
			ID:         7,
			Kind:       ir.KindResponse,
			Origin:     "bob",
			Deposit:    msg.Deposit,
			ReceivedAt: 12,
			Payload:    []byte{0x01, 0x02},
		})
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	got, _, err := s.GetMessage(ctx, 7)
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if got.Kind != ir.KindResponse || got.ReceivedAt != 12 || string(got.Payload) != "\x01\x02" {
		t.Errorf("GetMessage() = %+v", got)
	}
	if got.Callback != nil {
		t.Errorf("response kept callback %+v", got.Callback)
	}
	if got.TransportRef != "" {
		t.Errorf("response kept transport ref %q", got.TransportRef)
	}
}

func TestMessage_UpdateMissingFails(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateMessage(ctx, createTestQuery(3, "carol", 1))
	})
	if err == nil {
		t.Fatal("UpdateMessage() on missing record succeeded")
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertMessage(ctx, createTestQuery(1, "alice", 5)); err != nil {
			return err
		}
		if err := tx.AddTimeout(ctx, 5, 1); err != nil {
			return err
		}
		if _, err := tx.NextMessageID(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() = %v, want boom", err)
	}

	if _, ok, _ := s.GetMessage(ctx, 1); ok {
		t.Error("message survived rollback")
	}
	bucket, err := s.TimeoutBucket(ctx, 5)
	if err != nil {
		t.Fatalf("TimeoutBucket() failed: %v", err)
	}
	if len(bucket) != 0 {
		t.Errorf("bucket = %v after rollback", bucket)
	}

	var next ir.MessageID
	_ = s.WithTx(ctx, func(tx *Tx) error {
		var err error
		next, err = tx.PeekNextMessageID(ctx)
		return err
	})
	if next != 1 {
		t.Errorf("allocator advanced to %d across rollback", next)
	}
}

func TestNextMessageID_Monotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var ids []ir.MessageID
	for i := 0; i < 3; i++ {
		err := s.WithTx(ctx, func(tx *Tx) error {
			id, err := tx.NextMessageID(ctx)
			ids = append(ids, id)
			return err
		})
		if err != nil {
			t.Fatalf("NextMessageID() failed: %v", err)
		}
	}

	for i, id := range ids {
		if id != ir.MessageID(i+1) {
			t.Errorf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestNextMessageID_Exhausted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.SetNextMessageID(ctx, ^ir.MessageID(0)); err != nil {
			return err
		}
		_, err := tx.NextMessageID(ctx)
		return err
	})
	if !errors.Is(err, ErrHandleSpaceExhausted) {
		t.Fatalf("NextMessageID() = %v, want ErrHandleSpaceExhausted", err)
	}
}

func TestNextMessageID_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s1.WithTx(ctx, func(tx *Tx) error {
			_, err := tx.NextMessageID(ctx)
			return err
		}); err != nil {
			t.Fatalf("NextMessageID() failed: %v", err)
		}
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	var id ir.MessageID
	if err := s2.WithTx(ctx, func(tx *Tx) error {
		id, err = tx.NextMessageID(ctx)
		return err
	}); err != nil {
		t.Fatalf("NextMessageID() failed: %v", err)
	}
	if id != 3 {
		t.Errorf("NextMessageID() after reopen = %d, want 3", id)
	}
}

func TestTimeouts_BucketOrderAndRemoval(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, id := range []ir.MessageID{9, 3, 5} {
			if err := tx.AddTimeout(ctx, 10, id); err != nil {
				return err
			}
		}
		if err := tx.RemoveTimeout(ctx, 10, 3); err != nil {
			return err
		}
		// Removing an absent entry is a no-op.
		if err := tx.RemoveTimeout(ctx, 10, 99); err != nil {
			return err
		}
		n, err := tx.TimeoutCount(ctx, 10)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("TimeoutCount() = %d, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	bucket, err := s.TimeoutBucket(ctx, 10)
	if err != nil {
		t.Fatalf("TimeoutBucket() failed: %v", err)
	}
	if len(bucket) != 2 || bucket[0] != 9 || bucket[1] != 5 {
		t.Errorf("TimeoutBucket() = %v, want [9 5]", bucket)
	}

	if err := s.WithTx(ctx, func(tx *Tx) error { return tx.ClearTimeouts(ctx, 10) }); err != nil {
		t.Fatalf("ClearTimeouts() failed: %v", err)
	}
	bucket, _ = s.TimeoutBucket(ctx, 10)
	if len(bucket) != 0 {
		t.Errorf("bucket after clear = %v", bucket)
	}
}

func TestNextTimeoutBlock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		for block, id := range map[ir.BlockNumber]ir.MessageID{4: 1, 90: 2, 2_000: 3} {
			if err := tx.AddTimeout(ctx, block, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddTimeout() failed: %v", err)
	}

	tests := []struct {
		after, upto ir.BlockNumber
		want        ir.BlockNumber
		found       bool
	}{
		{0, 10, 4, true},
		{4, 1_000, 90, true},
		{3, 4, 4, true},
		{4, 89, 0, false},
		{90, 1_999, 0, false},
		{0, 1_000_000, 4, true},
		{2_000, 1_000_000, 0, false},
	}
	for _, tt := range tests {
		got, ok, err := s.NextTimeoutBlock(ctx, tt.after, tt.upto)
		if err != nil {
			t.Fatalf("NextTimeoutBlock(%d, %d) failed: %v", tt.after, tt.upto, err)
		}
		if ok != tt.found || got != tt.want {
			t.Errorf("NextTimeoutBlock(%d, %d) = %d, %v, want %d, %v",
				tt.after, tt.upto, got, ok, tt.want, tt.found)
		}
	}
}

func TestSetTransportRef(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	msg := createTestQuery(1, "alice", 20)
	msg.TransportRef = ""

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.SetTransportRef(ctx, 1, "q-77")
	})
	if err != nil {
		t.Fatalf("SetTransportRef() failed: %v", err)
	}

	id, ok, err := s.FindByTransportRef(ctx, "q-77")
	if err != nil || !ok || id != 1 {
		t.Errorf("FindByTransportRef() = %d, %v, %v", id, ok, err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error { return tx.SetTransportRef(ctx, 2, "q-78") })
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("SetTransportRef() on missing record = %v, want ErrNoRows", err)
	}
}

func TestOpen_MigratesCallbackFee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	// A database written before the callback fee column existed.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := migrateToV1(db); err != nil {
		t.Fatalf("migrateToV1() failed: %v", err)
	}
	if _, err := db.Exec(`PRAGMA user_version = 1`); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO messages (id, kind, origin, deposit) VALUES (1, 2, 'alice', 100)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	got, ok, err := s.GetMessage(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("GetMessage() = %v, %v", ok, err)
	}
	if got.CallbackFee != 0 || got.Deposit != 100 {
		t.Errorf("migrated record = %+v", got)
	}
}

func TestTransportRef_Unique(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestQuery(1, "alice", 5)
	b := createTestQuery(2, "alice", 5)
	b.TransportRef = a.TransportRef

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertMessage(ctx, a); err != nil {
			return err
		}
		return tx.InsertMessage(ctx, b)
	})
	if err == nil {
		t.Fatal("duplicate transport ref accepted")
	}
}

func TestListByOrigin(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, m := range []ir.Message{
			createTestQuery(2, "alice", 5),
			createTestQuery(1, "alice", 5),
			createTestQuery(3, "bob", 5),
		} {
			if err := tx.InsertMessage(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	msgs, err := s.ListByOrigin(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOrigin() failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Errorf("ListByOrigin() = %+v", msgs)
	}
}

func TestCurrentBlock_DefaultsToZero(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b, err := s.CurrentBlock(ctx)
	if err != nil || b != 0 {
		t.Fatalf("CurrentBlock() = %d, %v", b, err)
	}

	if err := s.WithTx(ctx, func(tx *Tx) error { return tx.SetCurrentBlock(ctx, 17) }); err != nil {
		t.Fatalf("SetCurrentBlock() failed: %v", err)
	}
	b, _ = s.CurrentBlock(ctx)
	if b != 17 {
		t.Errorf("CurrentBlock() = %d, want 17", b)
	}
}

func TestWithTx_CommitFailureSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM timeouts").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err = s.WithTx(ctx, func(tx *Tx) error { return tx.ClearTimeouts(ctx, 4) })
	if err == nil {
		t.Fatal("WithTx() ignored commit failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_RollbackOnCallbackError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO timeouts").
		WithArgs(int64(8), int64(1)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err = s.WithTx(ctx, func(tx *Tx) error { return tx.AddTimeout(ctx, 8, 1) })
	if err == nil {
		t.Fatal("WithTx() swallowed callback error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
