package main

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/syncspace/engine/config"
	"github.com/syncspace/engine/epoch"
	"github.com/syncspace/engine/internal/logger"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/router"
	"github.com/syncspace/engine/space"
	"github.com/syncspace/engine/store"
	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/wsrpc"
)

// app bundles the constructed object graph one CLI invocation drives: the
// wire client, the persisted store, and the space/router/epoch managers
// sitting on top of it.
type app struct {
	cfg      *config.Config
	client   *wsrpc.Client
	store    spaceStore
	router   *router.Router
	protocol *epoch.Protocol
	manager  *space.Manager
	selfDID  string
	selfPub  ed25519.PublicKey
}

// spaceStore is the subset of store.MemorySpaceStore/store.PostgresStore
// this command needs, plus the cursor store router.Config wants.
type spaceStore interface {
	space.Store
	Cursors() router.CursorStore
}

// memoryStoreAdapter narrows *store.MemorySpaceStore's separate cursor
// store to spaceStore's combined shape.
type memoryStoreAdapter struct {
	*store.MemorySpaceStore
	cursors *store.MemoryCursorStore
}

func (m memoryStoreAdapter) Cursors() router.CursorStore { return m.cursors }

// postgresStoreAdapter does the same for *store.PostgresStore, whose
// Cursors method already returns its own *CursorAdapter.
type postgresStoreAdapter struct {
	*store.PostgresStore
}

func (p postgresStoreAdapter) Cursors() router.CursorStore { return p.PostgresStore.Cursors() }

// registryProxy breaks the construction cycle between router.Router (which
// needs a SpaceRegistry) and space.Manager (which needs the *router.Router
// to register newly-activated spaces into): the proxy is handed to the
// router first, empty, and Manager is plugged in once it exists.
type registryProxy struct {
	manager *space.Manager
}

func (p *registryProxy) HasSpace(spaceID string) bool    { return p.manager != nil && p.manager.HasSpace(spaceID) }
func (p *registryProxy) IsAdmin(spaceID string) bool     { return p.manager != nil && p.manager.IsAdmin(spaceID) }
func (p *registryProxy) SpaceEpoch(spaceID string) uint64 {
	if p.manager == nil {
		return 0
	}
	return p.manager.SpaceEpoch(spaceID)
}
func (p *registryProxy) ShouldRotate(spaceID string) bool {
	return p.manager != nil && p.manager.ShouldRotate(spaceID)
}

// bootstrap loads configuration, dials the relay, and wires the full
// space/router/epoch object graph an operator command drives.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.WithConfigDir(configDir), config.WithDotEnvFile(dotEnvFile))
	if err != nil {
		return nil, fmt.Errorf("syncctl: load config: %w", err)
	}

	id, err := loadOrCreateIdentity(identityPath)
	if err != nil {
		return nil, err
	}

	log := logger.GetDefaultLogger().WithFields(logger.String("did", id.DID))

	client := wsrpc.New(cfg.Relay.Endpoint,
		wsrpc.WithDialTimeout(cfg.Relay.HandshakeTimeout),
		wsrpc.WithReadTimeout(cfg.Relay.RequestTimeout))
	if err := client.Connect(ctx); err != nil {
		log.Error("relay connect failed", logger.String("endpoint", cfg.Relay.Endpoint), logger.Error(err))
		return nil, fmt.Errorf("syncctl: connect to relay: %w", err)
	}
	log.Info("connected to relay", logger.String("endpoint", cfg.Relay.Endpoint))

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Error("store open failed", logger.String("driver", cfg.Store.Driver), logger.Error(err))
		client.Close()
		return nil, err
	}

	proxy := &registryProxy{}
	protocol := epoch.New(wsrpc.EpochTransport{Client: client})

	rt := router.New(router.Config{
		PersonalSpaceID: id.DID,
		RPC:             wsrpc.RouterRPC{Client: client},
		Registry:        proxy,
		Cursors:         st.Cursors(),
		Protocol:        protocol,
	})

	// mgr is filled in once space.New returns; TransportFactory only
	// invokes it lazily, after construction has completed.
	var mgr *space.Manager

	editChainCollections := make(map[string]bool, len(cfg.Sync.EditChainCollections))
	for _, c := range cfg.Sync.EditChainCollections {
		editChainCollections[c] = true
	}

	spaceCfg := space.Config{
		SelfDID:         id.DID,
		PersonalSpaceID: id.DID,
		Store:           st,
		Router:          rt,
		Protocol:        protocol,
		MembershipFactory: func(spaceID string) *membership.Client {
			return membership.New(spaceID, wsrpc.MembershipTransport{Client: client})
		},
		Accounts:    wsrpc.Accounts{Client: client},
		Invitations: wsrpc.Invitations{Client: client},
		TransportFactory: func(rec *space.Record) *transport.SyncTransport {
			return transport.New(transport.Config{
				SpaceID:        rec.SpaceID,
				PaddingBuckets: cfg.Padding.Buckets,
				Epoch:          &transport.EpochConfig{EpochKey: rec.SpaceKey, BaseEpoch: rec.Epoch},
				PushFn:         wsrpc.NewPushFunc(client, rec.SpaceID),
				Identity: &transport.Identity{
					DID:    id.DID,
					Signer: id.Signer,
					Resolve: func(did string) (ed25519.PublicKey, bool) {
						if mgr == nil {
							return nil, false
						}
						return mgr.ResolveSigningKey(ctx, did)
					},
				},
				EditChainCollections: editChainCollections,
			})
		},
		RotationInterval: cfg.Epoch.RotationInterval,
	}

	manager, err := space.New(spaceCfg, id.Signer, id.EncKey)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("syncctl: construct space manager: %w", err)
	}
	proxy.manager = manager
	mgr = manager

	if err := manager.InitializeFromSpaces(); err != nil {
		client.Close()
		return nil, fmt.Errorf("syncctl: initialize spaces: %w", err)
	}
	log.Info("identity bootstrapped")

	return &app{
		cfg:      cfg,
		client:   client,
		store:    st,
		router:   rt,
		protocol: protocol,
		manager:  manager,
		selfDID:  id.DID,
		selfPub:  id.Signer.Public().(ed25519.PublicKey),
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (spaceStore, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("syncctl: connect to postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("syncctl: ensure postgres schema: %w", err)
		}
		return postgresStoreAdapter{pg}, nil
	case "memory", "":
		return memoryStoreAdapter{
			MemorySpaceStore: store.NewMemorySpaceStore(),
			cursors:          store.NewMemoryCursorStore(),
		}, nil
	default:
		return nil, fmt.Errorf("syncctl: unknown store driver %q", cfg.Driver)
	}
}

func (a *app) Close() {
	a.client.Close()
	if closer, ok := a.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
