package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
	logsvc "github.com/trezcool/masomo-breakglass/services/logger"
	metricsvc "github.com/trezcool/masomo-breakglass/services/metrics"
	"github.com/trezcool/masomo-breakglass/storage/database"
	sqlxrepos "github.com/trezcool/masomo-breakglass/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZapLogger(conf.Debug)
	if err != nil {
		log.Fatal(err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up services
	metrics := metricsvc.New()
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	auditSvc := audit.NewService(sqlxrepos.NewAuditRepository(db), logger, metrics.AuditFallback())
	bgSvc := breakglass.NewService(
		conf,
		sqlxrepos.NewTransactor(db),
		sqlxrepos.NewSessionRepository(db),
		usrSvc,
		auditSvc,
		logger,
		metrics,
	)

	// start CLI
	cli := commandLine{
		db:     db.DB,
		usrSvc: usrSvc,
		bgSvc:  bgSvc,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	_ = logger.Sync()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		os.Exit(1)
	}
}
