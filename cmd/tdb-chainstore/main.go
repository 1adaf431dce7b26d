package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tobsdb/chainstore/internal/auth"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/conn"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/store/leveldb"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/internal/store/sqlite"
	"github.com/tobsdb/chainstore/pkg"
)

var Config = new(struct {
	Port          int    `long:"port" env:"TDB_PORT" default:"7085" description:"listening port"`
	Backend       string `long:"backend" env:"TDB_BACKEND" default:"memory" choice:"memory" choice:"leveldb" choice:"sqlite" description:"storage backend"`
	Path          string `long:"path" env:"TDB_PATH" description:"leveldb directory or sqlite database file"`
	Schema        string `long:"schema" env:"TDB_SCHEMA" description:"path to a JSON schema declaration"`
	User          string `long:"user" env:"TDB_USER" description:"admin username, auth is disabled when empty"`
	Password      string `long:"pass" env:"TDB_PASS" description:"admin password"`
	Confirmations int64  `long:"confirmations" env:"TDB_CONFIRMATIONS" default:"12" description:"blocks a write waits before it is persisted"`
	LogLevel      string `long:"log-level" env:"TDB_LOG_LEVEL" default:"error" choice:"none" choice:"error" choice:"debug" description:"log verbosity"`
})

func loadSchema(path string) (*builder.Schema, error) {
	if path == "" {
		return builder.NewSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading schema")
	}
	tables, err := builder.ParseDeclaration(data)
	if err != nil {
		return nil, err
	}
	return builder.ConstructSchema(tables)
}

func openConnector(ctx context.Context, backend, path string, schema *builder.Schema) (store.Connector, error) {
	switch backend {
	case "memory":
		return memory.New(schema), nil
	case "leveldb", "sqlite":
		if path == "" {
			return nil, fmt.Errorf("the %s backend needs --path", backend)
		}
		if backend == "leveldb" {
			return leveldb.Open(path, schema)
		}
		return sqlite.Open(ctx, path, schema)
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	pkg.SetLogLevel(pkg.ParseLogLevel(Config.LogLevel))

	schema, err := loadSchema(Config.Schema)
	if err != nil {
		pkg.FatalLog("loading schema:", err)
	}

	connector, err := openConnector(context.Background(), Config.Backend, Config.Path, schema)
	if err != nil {
		pkg.FatalLog("opening connector:", err)
	}

	users := auth.Users{}
	if Config.User != "" {
		admin, err := auth.NewUser(Config.User, Config.Password, auth.TdbUserRoleAdmin)
		if err != nil {
			pkg.FatalLog("creating admin user:", err)
		}
		users.Add(admin)
	}

	pkg.WithFields(logrus.Fields{
		"backend":       Config.Backend,
		"path":          Config.Path,
		"confirmations": Config.Confirmations,
		"auth":          len(users) > 0,
	}).Info("starting chainstore")

	srv := conn.NewServer(connector, Config.Confirmations, users)
	mux := srv.Handler()
	mux.Handle("/metrics", promhttp.Handler())
	srv.Listen(Config.Port, mux)
}
