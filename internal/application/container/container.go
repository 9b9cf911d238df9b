package container

import (
	"pfingest/internal/application/port"
	"pfingest/internal/application/service"
	"pfingest/internal/application/usecase/ingest"
)

// Container 应用层服务, built lazily over one store and object store.
type Container struct {
	store          port.Store
	objects        port.ObjectStore
	snapshotPrefix string

	ledgerService   *service.LedgerService
	positionService *service.PositionService
	snapshotService *service.SnapshotService
	runTracker      *service.RunTracker
	handler         *ingest.Handler
}

func New(store port.Store, objects port.ObjectStore, snapshotPrefix string) *Container {
	return &Container{
		store:          store,
		objects:        objects,
		snapshotPrefix: snapshotPrefix,
	}
}

func (c *Container) Store() port.Store {
	return c.store
}

func (c *Container) LedgerService() *service.LedgerService {
	if c.ledgerService == nil {
		c.ledgerService = service.NewLedgerService(c.store)
	}
	return c.ledgerService
}

func (c *Container) PositionService() *service.PositionService {
	if c.positionService == nil {
		c.positionService = service.NewPositionService(c.store)
	}
	return c.positionService
}

func (c *Container) SnapshotService() *service.SnapshotService {
	if c.snapshotService == nil {
		c.snapshotService = service.NewSnapshotService(c.store)
	}
	return c.snapshotService
}

func (c *Container) RunTracker() *service.RunTracker {
	if c.runTracker == nil {
		c.runTracker = service.NewRunTracker(c.store.Runs())
	}
	return c.runTracker
}

// IngestHandler 消息处理入口
func (c *Container) IngestHandler() *ingest.Handler {
	if c.handler == nil {
		c.handler = ingest.NewHandler(ingest.HandlerDeps{
			Objects:        c.objects,
			Ledger:         c.LedgerService(),
			Positions:      c.PositionService(),
			Snapshots:      c.SnapshotService(),
			Runs:           c.RunTracker(),
			SnapshotPrefix: c.snapshotPrefix,
		})
	}
	return c.handler
}
