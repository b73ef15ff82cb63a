package consensusengine

import (
	"log/slog"
	"time"

	httpadapter "hangout/contexts/hangout-planning/consensus-engine/adapters/http"
	"hangout/contexts/hangout-planning/consensus-engine/adapters/memory"
	"hangout/contexts/hangout-planning/consensus-engine/application/commands"
	"hangout/contexts/hangout-planning/consensus-engine/application/queries"
	"hangout/contexts/hangout-planning/consensus-engine/application/workers"
	"hangout/contexts/hangout-planning/consensus-engine/domain/entities"
	"hangout/contexts/hangout-planning/consensus-engine/ports"

	"golang.org/x/sync/singleflight"
)

type Module struct {
	Handler   httpadapter.Handler
	Votes     commands.VoteUseCase
	Lifecycle commands.LifecycleUseCase
	States    queries.PollStateUseCase
	Finalizer commands.Finalizer
	Relay     workers.OutboxRelay
	Sweeper   workers.PollSweeper
	Repair    workers.RSVPRepair
	Consumer  workers.HangoutEventConsumer
	Store     *memory.Store
}

// Dependencies lists the ports the engine needs. Publisher and Subscriber
// are only used by the workers and may be nil for the API process.
type Dependencies struct {
	Polls          ports.PollRepository
	Ledger         ports.VoteLedger
	Roster         ports.RosterReader
	RSVPs          ports.RSVPRepository
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxRepository
	Publisher      ports.EventPublisher
	Subscriber     ports.EventSubscriber
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Metrics        ports.Metrics
	IdempotencyTTL time.Duration
	RepairLookback time.Duration
	BatchSize      int
	ConsumerGroup  string
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	finalizer := commands.Finalizer{
		Polls:   deps.Polls,
		RSVPs:   deps.RSVPs,
		Roster:  deps.Roster,
		Clock:   deps.Clock,
		IDGen:   deps.IDGen,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	}
	lifecycle := commands.LifecycleUseCase{
		Polls:  deps.Polls,
		Roster: deps.Roster,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	votes := commands.VoteUseCase{
		Polls:          deps.Polls,
		Ledger:         deps.Ledger,
		Roster:         deps.Roster,
		Finalizer:      finalizer,
		Idempotency:    deps.Idempotency,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}
	states := queries.PollStateUseCase{
		Polls:  deps.Polls,
		Ledger: deps.Ledger,
		Roster: deps.Roster,
		Clock:  deps.Clock,
		Group:  &singleflight.Group{},
		Logger: deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Votes:     votes,
			Lifecycle: lifecycle,
			States:    states,
			Logger:    deps.Logger,
		},
		Votes:     votes,
		Lifecycle: lifecycle,
		States:    states,
		Finalizer: finalizer,
		Relay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
		Sweeper: workers.PollSweeper{
			Polls:     deps.Polls,
			Lifecycle: lifecycle,
			Votes:     votes,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
		Repair: workers.RSVPRepair{
			Polls:     deps.Polls,
			Finalizer: finalizer,
			Clock:     deps.Clock,
			Lookback:  deps.RepairLookback,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
		Consumer: workers.HangoutEventConsumer{
			Subscriber:    deps.Subscriber,
			Lifecycle:     lifecycle,
			ConsumerGroup: deps.ConsumerGroup,
			Disabled:      deps.Subscriber == nil,
			Logger:        deps.Logger,
		},
	}
}

// NewInMemoryModule wires every port to one memory.Store. The store is
// exposed so callers can seed rosters and inspect the outbox.
func NewInMemoryModule(seed []entities.Poll, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Polls:          store,
		Ledger:         store,
		Roster:         store,
		RSVPs:          store,
		Idempotency:    store,
		Outbox:         store,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
