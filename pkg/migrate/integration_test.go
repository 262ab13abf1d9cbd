package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"

	"github.com/nimburion/transfers/pkg/testutil"
)

func TestIntegration_UpDownPerTenant(t *testing.T) {
	url := testutil.StartPostgres(t)
	ctx := context.Background()

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	diku, err := New(db, "diku_mod_feesfines")
	if err != nil {
		t.Fatal(err)
	}
	college, err := New(db, "college_mod_feesfines")
	if err != nil {
		t.Fatal(err)
	}

	if n, err := diku.Up(ctx); err != nil || n != 2 {
		t.Fatalf("Up() = %d, %v; want 2 applied", n, err)
	}
	if n, err := diku.Up(ctx); err != nil || n != 0 {
		t.Fatalf("second Up() = %d, %v; want 0", n, err)
	}

	st, err := college.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.AppliedVersions) != 0 || len(st.Pending) != 2 {
		t.Fatalf("other tenant status = %+v", st)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO "diku_mod_feesfines".transfers (id, jsonb) VALUES ('a', '{"id":"a"}')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}

	if n, err := diku.Down(ctx, 2); err != nil || n != 2 {
		t.Fatalf("Down(2) = %d, %v", n, err)
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('"diku_mod_feesfines".transfers') IS NOT NULL`).Scan(&exists); err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("transfers table survived Down")
	}
}
