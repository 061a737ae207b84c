package postgres

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: " postgres://a@b/c ", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "flasharb", User: "postgres"},
			want: "postgres://postgres@db:5432/flasharb?sslmode=disable",
		},
		{
			name: "application name and timeout",
			cfg: ClientConfig{
				Host: "db", Port: 6432, Database: "flasharb", User: "u", SSLMode: "require",
				ApplicationName: "flasharb", ConnectTimeout: 10 * time.Second,
			},
			want: "postgres://u@db:6432/flasharb?application_name=flasharb&connect_timeout=10&sslmode=require",
		},
		{
			name: "sub-second timeout rounds up to one",
			cfg:  ClientConfig{Host: "db", Database: "d", ConnectTimeout: 200 * time.Millisecond},
			want: "postgres://db:5432/d?connect_timeout=1&sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_EscapesCredentials(t *testing.T) {
	cfg := ClientConfig{
		Host:     "db",
		Database: "flasharb",
		User:     "arb",
		Password: "p@ss:w/rd?",
	}
	dsn := DSN(cfg)

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", dsn, err)
	}
	if pw, _ := u.User.Password(); pw != cfg.Password {
		t.Errorf("password = %q, want %q", pw, cfg.Password)
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	if pc.ConnConfig.Password != cfg.Password || pc.ConnConfig.User != "arb" {
		t.Errorf("conn user/password = %q/%q", pc.ConnConfig.User, pc.ConnConfig.Password)
	}
	if pc.ConnConfig.Database != "flasharb" || pc.ConnConfig.Port != 5432 {
		t.Errorf("conn database/port = %q/%d", pc.ConnConfig.Database, pc.ConnConfig.Port)
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
	for _, n := range names {
		if !strings.HasSuffix(n, ".sql") {
			t.Errorf("non-sql migration %q", n)
		}
	}
}
