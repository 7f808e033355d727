package dig_container

import (
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/masomo-breakglass/apps/api/echo"
	"github.com/trezcool/masomo-breakglass/core"
	"github.com/trezcool/masomo-breakglass/core/audit"
	"github.com/trezcool/masomo-breakglass/core/breakglass"
	"github.com/trezcool/masomo-breakglass/core/user"
	logsvc "github.com/trezcool/masomo-breakglass/services/logger"
	metricsvc "github.com/trezcool/masomo-breakglass/services/metrics"
	"github.com/trezcool/masomo-breakglass/storage/database"
	sqlxrepos "github.com/trezcool/masomo-breakglass/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newZapLogger(conf *core.Config) *zap.Logger {
	zl, err := logsvc.NewZapLogger(conf.Debug)
	if err != nil {
		log.Fatal(errors.Wrap(err, "building zap logger").Error())
	}
	return zl
}

func newLogger(conf *core.Config, zl *zap.Logger) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newAuditService(repo audit.Repository, logger core.Logger, metrics *metricsvc.Metrics) *audit.Service {
	return audit.NewService(repo, logger, metrics.AuditFallback())
}

func newBreakGlassService(
	conf *core.Config,
	tx core.Transactor,
	repo breakglass.Repository,
	usrSvc *user.Service,
	auditSvc *audit.Service,
	logger core.Logger,
	metrics *metricsvc.Metrics,
) *breakglass.Service {
	return breakglass.NewService(conf, tx, repo, usrSvc, auditSvc, logger, metrics)
}

type serverParams struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	UserSvc       *user.Service
	BreakGlassSvc *breakglass.Service
	AuditSvc      *audit.Service
	Metrics       *metricsvc.Metrics
	Validate      *validator.Validate
	Translator    ut.Translator
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		UserSvc:       p.UserSvc,
		BreakGlassSvc: p.BreakGlassSvc,
		AuditSvc:      p.AuditSvc,
		Metrics:       p.Metrics,
		Validate:      p.Validate,
		Translator:    p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZapLogger))
	must(c.Provide(newLogger, dig.As(new(core.Logger))))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(sqlxrepos.NewTransactor, dig.As(new(core.Transactor))))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewSessionRepository, dig.As(new(breakglass.Repository))))
	must(c.Provide(sqlxrepos.NewAuditRepository, dig.As(new(audit.Repository))))
	must(c.Provide(metricsvc.New))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(newAuditService))
	must(c.Provide(newBreakGlassService))
	must(c.Provide(breakglass.NewSweeper))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
