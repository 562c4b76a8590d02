package main

import (
	"database/sql"
	"log/slog"

	attendanceService "keystone/internal/attendance/service"
	attendanceStore "keystone/internal/attendance/store"
	"keystone/internal/audit"
	maintenanceService "keystone/internal/maintenance/service"
	memberService "keystone/internal/member/service"
	memberStore "keystone/internal/member/store"
	"keystone/internal/platform/config"
	"keystone/internal/platform/metrics"
	"keystone/internal/platform/postgres"
	promotionService "keystone/internal/promotion/service"
	promotionStore "keystone/internal/promotion/store"
)

// services is the domain layer built over one database handle.
type services struct {
	tx          *postgres.TxRunner
	auditStore  *audit.PostgresStore
	members     *memberService.Service
	promotion   *promotionService.Service
	attendance  *attendanceService.Service
	maintenance *maintenanceService.Service
}

func buildServices(db *sql.DB, cfg config.Database, logger *slog.Logger, m *metrics.Metrics) *services {
	tx := postgres.NewTxRunner(db,
		postgres.WithIsolation(sql.LevelSerializable),
		postgres.WithTimeout(cfg.TxTimeout),
		postgres.WithRetries(cfg.TxRetries),
		postgres.WithName("lifecycle"),
		postgres.WithMetrics(m),
	)
	auditStore := audit.NewPostgresStore(db)
	publisher := audit.NewPublisher(auditStore, logger)

	members := memberStore.NewPostgres(db)
	attendance := attendanceStore.NewPostgres(db)

	s := &services{tx: tx, auditStore: auditStore}
	s.members = memberService.New(members, tx,
		memberService.WithLogger(logger),
		memberService.WithMetrics(m),
		memberService.WithAuditPublisher(publisher),
	)
	s.promotion = promotionService.New(promotionStore.NewPostgres(db), members, tx,
		promotionService.WithLogger(logger),
		promotionService.WithMetrics(m),
		promotionService.WithAuditPublisher(publisher),
	)
	s.attendance = attendanceService.New(attendance, members, tx,
		attendanceService.WithLogger(logger),
		attendanceService.WithMetrics(m),
		attendanceService.WithAuditPublisher(publisher),
	)
	s.maintenance = maintenanceService.New(attendance, members, s.promotion, tx,
		maintenanceService.WithLogger(logger),
		maintenanceService.WithMetrics(m),
		maintenanceService.WithAuditPublisher(publisher),
	)
	return s
}
