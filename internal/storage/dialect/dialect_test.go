package dialect

import (
	"strings"
	"testing"
)

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantDriver string
		wantErr    bool
	}{
		{"sqlite", "sqlite", "sqlite", false},
		{"sqlite3", "sqlite", "sqlite", false},
		{"postgres", "postgres", "pgx", false},
		{"postgresql", "postgres", "pgx", false},
		{"pgx", "postgres", "pgx", false},
		{"PGX", "postgres", "pgx", false},
		{"unknown", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
			if d.DriverName() != tt.wantDriver {
				t.Errorf("DriverName() = %v, want %v", d.DriverName(), tt.wantDriver)
			}
		})
	}
}

func TestSQLiteDialect_Rebind(t *testing.T) {
	d := &sqliteDialect{}
	query := "SELECT * FROM lifetime_ends WHERE end_date < ? AND room_id = ?"
	got := d.Rebind(query)
	if got != query {
		t.Errorf("Rebind() = %v, want %v", got, query)
	}
}

func TestPostgresDialect_Rebind(t *testing.T) {
	d := &postgresDialect{}
	tests := []struct {
		query string
		want  string
	}{
		{"DELETE FROM lifetime_ends WHERE event_id = ?", "DELETE FROM lifetime_ends WHERE event_id = $1"},
		{"SELECT id FROM lifetime_ends WHERE end_date < ? AND room_id = ?", "SELECT id FROM lifetime_ends WHERE end_date < $1 AND room_id = $2"},
		{"INSERT INTO lifetime_ends VALUES (?, ?, ?)", "INSERT INTO lifetime_ends VALUES ($1, $2, $3)"},
		{"SELECT * FROM lifetime_ends", "SELECT * FROM lifetime_ends"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := d.Rebind(tt.query)
			if got != tt.want {
				t.Errorf("Rebind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostgresDialect_RebindManyPlaceholders(t *testing.T) {
	d := &postgresDialect{}
	query := "VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", 12), ", ") + ")"
	got := d.Rebind(query)
	if !strings.Contains(got, "$12") || strings.Contains(got, "?") {
		t.Errorf("Rebind() = %v", got)
	}
}

func TestSQLiteDialect_UpsertClause(t *testing.T) {
	d := &sqliteDialect{}

	got := d.UpsertClause("event_id", nil)
	want := "ON CONFLICT(event_id) DO NOTHING"
	if got != want {
		t.Errorf("UpsertClause() = %v, want %v", got, want)
	}

	got = d.UpsertClause("event_id", []string{"end_date", "room_id"})
	want = "ON CONFLICT(event_id) DO UPDATE SET end_date=excluded.end_date, room_id=excluded.room_id"
	if got != want {
		t.Errorf("UpsertClause() = %v, want %v", got, want)
	}
}

func TestPostgresDialect_UpsertClause(t *testing.T) {
	d := &postgresDialect{}

	got := d.UpsertClause("event_id", nil)
	want := "ON CONFLICT (event_id) DO NOTHING"
	if got != want {
		t.Errorf("UpsertClause() = %v, want %v", got, want)
	}

	got = d.UpsertClause("event_id", []string{"end_date", "room_id"})
	want = "ON CONFLICT (event_id) DO UPDATE SET end_date = EXCLUDED.end_date, room_id = EXCLUDED.room_id"
	if got != want {
		t.Errorf("UpsertClause() = %v, want %v", got, want)
	}
}

func TestDialect_Types(t *testing.T) {
	tests := []struct {
		name          string
		dialect       Dialect
		autoIncrement string
		timestampType string
	}{
		{"sqlite", &sqliteDialect{}, "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"},
		{"postgres", &postgresDialect{}, "BIGSERIAL PRIMARY KEY", "TIMESTAMP WITH TIME ZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.AutoIncrementClause(); got != tt.autoIncrement {
				t.Errorf("AutoIncrementClause() = %v, want %v", got, tt.autoIncrement)
			}
			if got := tt.dialect.TimestampType(); got != tt.timestampType {
				t.Errorf("TimestampType() = %v, want %v", got, tt.timestampType)
			}
		})
	}
}

func TestDialect_PragmaStatements(t *testing.T) {
	sqliteD := &sqliteDialect{}
	pragmas := sqliteD.PragmaStatements()
	if len(pragmas) == 0 {
		t.Error("SQLite should have pragma statements")
	}

	pgD := &postgresDialect{}
	if pgD.PragmaStatements() != nil {
		t.Error("PostgreSQL should not have pragma statements")
	}
}
