package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/NordCoder/Warden/internal/obs"
	"github.com/NordCoder/Warden/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DB_DSN"), "postgres DSN")
	command := flag.String("cmd", "up", "goose command: up, down, status, version, reset")
	flag.Parse()

	logger, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "warden/migrator"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("DB_DSN is empty")
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(zap.NewStdLog(logger))
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.RunContext(context.Background(), *command, db, ".", flag.Args()...); err != nil {
		logger.Fatal("migrate", zap.String("cmd", *command), zap.Error(err))
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		logger.Fatal("read version", zap.Error(err))
	}
	logger.Info("migrations done", zap.String("cmd", *command), zap.String("version", strconv.FormatInt(v, 10)))
}
