package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/groupLoan/pkg/collection"
	"github.com/mcclellann/groupLoan/pkg/config"
	"github.com/mcclellann/groupLoan/pkg/ledger"
	"github.com/mcclellann/groupLoan/pkg/loan"
	"github.com/mcclellann/groupLoan/pkg/report"
	"github.com/mcclellann/groupLoan/pkg/schedule"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Server holds the services behind the HTTP handlers.
type Server struct {
	storage   store.Storage
	loans     *loan.Service
	generator *schedule.Generator
	ledger    *ledger.Recorder
	payments  *collection.Processor
	views     *collection.Builder
	reports   *report.Aggregator
	log       logrus.FieldLogger
	jwtSecret []byte
}

func NewServer(s store.Storage, cfg *config.Config, log logrus.FieldLogger) *Server {
	gen := schedule.NewGenerator(s, log, cfg.DefaultTenure)
	rec := ledger.NewRecorder(s, log)
	srv := &Server{
		storage:   s,
		loans:     loan.NewService(s, gen, rec, log),
		generator: gen,
		ledger:    rec,
		payments:  collection.NewProcessor(s, rec, log),
		views:     collection.NewBuilder(s),
		reports:   report.NewAggregator(s, log),
		log:       log,
	}
	if cfg.JWTSecret != "" {
		srv.jwtSecret = []byte(cfg.JWTSecret)
	}
	return srv
}

// Router wires every route. All routes except /health sit behind the bearer
// token check when a JWT secret is configured.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/members", s.createMemberHandler).Methods("POST")
	api.HandleFunc("/members", s.listMembersHandler).Methods("GET")
	api.HandleFunc("/members/{id}", s.getMemberHandler).Methods("GET")
	api.HandleFunc("/members/{id}", s.deleteMemberHandler).Methods("DELETE")

	api.HandleFunc("/groups", s.createGroupHandler).Methods("POST")
	api.HandleFunc("/groups", s.listGroupsHandler).Methods("GET")
	api.HandleFunc("/groups/{id}", s.getGroupHandler).Methods("GET")
	api.HandleFunc("/groups/{id}", s.updateGroupHandler).Methods("PUT")
	api.HandleFunc("/groups/{id}", s.deleteGroupHandler).Methods("DELETE")
	api.HandleFunc("/groups/{id}/reactivate", s.reactivateGroupHandler).Methods("POST")

	api.HandleFunc("/staff", s.createStaffHandler).Methods("POST")
	api.HandleFunc("/staff", s.listStaffHandler).Methods("GET")

	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans/search", s.searchLoansHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	api.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	api.HandleFunc("/loans/{id}/reactivate", s.reactivateLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/emis", s.listEmisHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/emis", s.deleteEmisHandler).Methods("DELETE")
	api.HandleFunc("/loans/{id}/billing", s.loanBillingHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/billing/{memberId}", s.memberBillingHandler).Methods("GET")

	api.HandleFunc("/billing", s.createBillingHandler).Methods("POST")

	api.HandleFunc("/collections", s.listCollectionsHandler).Methods("GET")
	api.HandleFunc("/collections/payments", s.payHandler).Methods("POST")
	api.HandleFunc("/collections/overdue", s.markOverdueHandler).Methods("POST")
	api.HandleFunc("/collections/{loanId}", s.getCollectionHandler).Methods("GET")

	api.HandleFunc("/reports/filter-options", s.filterOptionsHandler).Methods("GET")
	api.HandleFunc("/reports/data", s.reportDataHandler).Methods("GET")
	api.HandleFunc("/reports/export", s.reportExportHandler).Methods("GET")

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sweepOverdue is the scheduled form of POST /collections/overdue.
func (s *Server) sweepOverdue() {
	changed, err := s.payments.MarkOverdue(context.Background(), time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Error("Overdue sweep failed")
		return
	}
	s.log.WithField("changed", changed).Info("Overdue sweep complete")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(cfg.LogLevel)

	sqlStore, err := store.Open(cfg.DBDriver, cfg.DBConn, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}
	defer sqlStore.Close()

	server := NewServer(sqlStore, cfg, logger)
	if server.jwtSecret == nil {
		logger.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	if cfg.OverdueSweepSchedule != "" {
		sweeper := cron.New()
		if _, err := sweeper.AddFunc(cfg.OverdueSweepSchedule, server.sweepOverdue); err != nil {
			logger.Fatalf("Failed to schedule overdue sweep: %v", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		logger.WithField("schedule", cfg.OverdueSweepSchedule).Info("Overdue sweep scheduled")
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.Infof("Server starting on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server failed: %v", err)
	}
}
