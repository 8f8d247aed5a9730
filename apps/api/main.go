package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/premiermti/shikkha/apps/api/echo"
	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
	"github.com/premiermti/shikkha/core/certificate"
	"github.com/premiermti/shikkha/core/exam"
	emailsvc "github.com/premiermti/shikkha/services/email"
	logsvc "github.com/premiermti/shikkha/services/logger"
	"github.com/premiermti/shikkha/storage/database"
	sqlxrepos "github.com/premiermti/shikkha/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	workDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("getting working directory: %v", err)
	}
	conf := core.NewConfig(workDir)
	core.Conf = conf
	account.Configure(conf)

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() { _ = db.Close() }()
	sdb := sqlx.NewDb(db, conf.Database.Engine)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	acctSvc := account.NewService(sqlxrepos.NewAccountRepository(sdb), mailSvc)
	attemptRepo := sqlxrepos.NewAttemptRepository(sdb)
	examSvc := exam.NewService(attemptRepo, sqlxrepos.NewQuestionBank(sdb))
	certRepo := sqlxrepos.NewCertificateRepository(sdb)
	issuer := certificate.NewIssuer(
		certRepo,
		certificate.NewEligibility(sqlxrepos.NewCourseStore(sdb), attemptRepo),
		acctSvc,
		mailSvc,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	// expire overdue attempts in the background; crash-safe since the stored
	// deadline alone governs expiry
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go exam.NewSweeper(examSvc, conf.AttemptSweepInterval, logger).Run(sweepCtx)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		&echoapi.Options{
			Address: conf.Server.Addr,
			Logger:  logger,
			SignalShutdown: func() {
				shutdownCh <- syscall.SIGTERM
			},
			AccountSvc: acctSvc,
			ExamSvc:    examSvc,
			Issuer:     issuer,
			CertRepo:   certRepo,
		},
	)

	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdownCh
	logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	stopSweep()

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = server.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
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
