// Package app assembles the service runtime shared by the server and
// worker commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/config"
	"github.com/unclebandit/smsleopard-segments/internal/controller"
	"github.com/unclebandit/smsleopard-segments/internal/db"
	"github.com/unclebandit/smsleopard-segments/internal/dispatch"
	"github.com/unclebandit/smsleopard-segments/internal/handler"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/queue"
	"github.com/unclebandit/smsleopard-segments/internal/reconcile"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/service"
	"github.com/unclebandit/smsleopard-segments/internal/vendor"
)

// Store is the set of repositories every component is built from.
type Store interface {
	service.Store
	Orders() repository.OrderRepositoryInterface
}

type App struct {
	Config     config.Config
	Logger     *zap.Logger
	DB         *sql.DB
	Store      Store
	Queue      queue.Queue
	Reconciler *reconcile.Reconciler
	Simulator  *vendor.Simulator
	Pipeline   *dispatch.Pipeline
	Service    *service.CampaignService
	Customers  *service.CustomerService

	closers []func() error
}

// New connects the configured store and queue and builds every component.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	q, err := a.openQueue()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Queue = q

	a.Reconciler = reconcile.New(store.Logs(), store.Campaigns(), logger.Named("reconcile"))
	a.Simulator = vendor.NewSimulator(vendor.SimulatorConfig{
		SuccessRate:     cfg.Vendor.SuccessRate,
		LatencyMin:      cfg.Vendor.LatencyMin,
		LatencyMax:      cfg.Vendor.LatencyMax,
		ReceiptDelayMin: cfg.Vendor.ReceiptDelayMin,
		ReceiptDelayMax: cfg.Vendor.ReceiptDelayMax,
	}, vendor.QueueSink{Queue: q}, logger.Named("vendor"))
	a.Pipeline = &dispatch.Pipeline{
		Logs:      store.Logs(),
		Campaigns: store.Campaigns(),
		Vendor:    a.Simulator,
		Receipts:  a.Reconciler,
		Config: dispatch.Config{
			BatchSize:   cfg.Dispatch.BatchSize,
			BatchPause:  cfg.Dispatch.BatchPause,
			SendTimeout: cfg.Dispatch.SendTimeout,
		},
		Logger: logger.Named("dispatch"),
	}
	a.Service = service.NewCampaignService(store, q, logger.Named("service"))
	a.Customers = service.NewCustomerService(store, logger.Named("service"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	if a.Config.StoreDriver == "memory" {
		a.Logger.Warn("using in-memory store, data is lost on restart")
		var seed []model.Customer
		if a.Config.SeedCustomers != "" {
			var err error
			if seed, err = repository.LoadCustomers(a.Config.SeedCustomers); err != nil {
				return nil, fmt.Errorf("seed customers: %w", err)
			}
			a.Logger.Info("seeded memory store", zap.Int("customers", len(seed)))
		}
		return repository.NewMemoryStore(seed...), nil
	}

	conn, err := db.Open(ctx, a.Config.DSN(), a.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	return repository.NewPostgresStore(conn), nil
}

func (a *App) openQueue() (queue.Queue, error) {
	if a.Config.QueueDriver == "amqp" {
		q, err := queue.DialAMQP(a.Config.AMQPURL, a.Logger.Named("queue"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			if a.Simulator != nil {
				a.Simulator.Wait()
			}
			return q.Close()
		})
		return q, nil
	}
	q := queue.NewInMemoryQueue(a.Logger.Named("queue"))
	// Drain dispatch jobs, then the receipts they scheduled.
	a.closers = append(a.closers, func() error {
		q.Wait()
		if a.Simulator != nil {
			a.Simulator.Wait()
		}
		q.Wait()
		return nil
	})
	return q, nil
}

// StartConsumers subscribes the dispatch pipeline and the reconciler to
// their topics.
func (a *App) StartConsumers() error {
	if err := service.StartDispatchSubscriber(a.Queue, a.Pipeline, a.Logger.Named("worker")); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicCampaignDispatch, err)
	}
	if err := service.StartReceiptSubscriber(a.Queue, a.Reconciler, a.Logger.Named("worker")); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicDeliveryReceipts, err)
	}
	return nil
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	health := &handler.HealthHandler{}
	if a.DB != nil {
		health.DB = a.DB
	}
	return controller.NewRouter(
		&controller.CampaignController{CampaignService: a.Service, Logger: a.Logger.Named("http")},
		&controller.CustomerController{CustomerService: a.Customers, Logger: a.Logger.Named("http")},
		&handler.DeliveryHandler{Receipts: a.Reconciler, Logger: a.Logger.Named("http")},
		health,
	)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
