package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/common"
	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/metrics"
	"github.com/Ethernal-Tech/cardano-projector/reducers"
	"github.com/Ethernal-Tech/cardano-projector/storage"
	"github.com/hashicorp/go-hclog"
)

const (
	stageConfirm = "confirm"
	stageEnrich  = "enrich"
	stageReduce  = "reduce"
	stageStorage = "storage"
)

type WorkersConfig struct {
	ChannelSize     int           `yaml:"channelSize"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	TickTimeout     time.Duration `yaml:"tickTimeout"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
}

type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	// growth of the delay per attempt, 2 when unset
	BackoffMultiplier float64 `yaml:"backoffMultiplier"`
}

type Config struct {
	MinDepth     uint
	BatchSize    int
	Workers      WorkersConfig
	StorageRetry RetryConfig
	Policy       indexer.ErrorPolicyConfig
}

// BlockStore is the historical store of released blocks.
type BlockStore interface {
	Insert(block indexer.RawBlock) ([]indexer.Point, error)
	UndoRange(point indexer.Point) ([]indexer.RawBlock, error)
	Latest() (*indexer.RawBlock, error)
}

// EnrichmentCache resolves the inputs of released blocks.
type EnrichmentCache interface {
	Apply(ctx context.Context, block *indexer.Block) (*indexer.BlockContext, error)
	Undo(ctx context.Context, block *indexer.Block) (*indexer.BlockContext, error)
	Forget(ctx context.Context, points []indexer.Point) error
}

type Dependencies struct {
	BlockStore BlockStore
	Cache      EnrichmentCache
	Decoder    indexer.BlockDecoder
	Reducers   []reducers.Reducer
	Store      storage.Store
	Metrics    *metrics.Metrics
}

// releasedBlock is a block leaving the confirmation stage, forward or to be undone.
type releasedBlock struct {
	block   indexer.RawBlock
	undo    bool
	cursor  indexer.Point
	evicted []indexer.Point
}

// enrichedBlock is nil Block when the block could not be decoded and was skipped.
type enrichedBlock struct {
	point   indexer.Point
	block   *indexer.Block
	context *indexer.BlockContext
	undo    bool
	cursor  indexer.Point
}

// Pipeline wires confirm, enrich, reduce and storage stages with bounded channels.
type Pipeline struct {
	config Config
	deps   Dependencies
	policy indexer.ErrorPolicy
	buffer *indexer.ConfirmationBuffer
	sink   *storage.Sink
	logger hclog.Logger

	inputCh    chan indexer.ChainEvent
	releasedCh chan releasedBlock
	enrichedCh chan enrichedBlock
	commandCh  chan crdt.Message

	stages  map[string]*Stage
	monitor *Monitor
	errorCh chan error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewPipeline(config Config, deps Dependencies, logger hclog.Logger) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}

	config.Workers = withDefaults(config.Workers)

	p := &Pipeline{
		config:     config,
		deps:       deps,
		policy:     indexer.NewErrorPolicy(config.Policy),
		buffer:     indexer.NewConfirmationBuffer(config.MinDepth, logger.Named(stageConfirm)),
		sink:       storage.NewSink(deps.Store, config.BatchSize, logger.Named(stageStorage)),
		logger:     logger,
		inputCh:    make(chan indexer.ChainEvent, config.Workers.ChannelSize),
		releasedCh: make(chan releasedBlock, config.Workers.ChannelSize),
		enrichedCh: make(chan enrichedBlock, config.Workers.ChannelSize),
		commandCh:  make(chan crdt.Message, config.Workers.ChannelSize),
		stages:     map[string]*Stage{},
		errorCh:    make(chan error, 1),
	}

	var stages []*Stage

	for _, name := range []string{stageConfirm, stageEnrich, stageReduce, stageStorage} {
		stage := newStage(name, config.Workers.IdleTimeout, config.Workers.TickTimeout, logger)
		p.stages[name] = stage
		stages = append(stages, stage)
	}

	p.monitor = NewMonitor(stages, config.Workers.MonitorInterval, deps.Metrics, logger.Named("monitor"))

	return p
}

// InputCh is the port the source pushes chain events into.
func (p *Pipeline) InputCh() chan<- indexer.ChainEvent {
	return p.inputCh
}

// ErrorCh receives the error of the first stage that failed. The pipeline stops after it.
func (p *Pipeline) ErrorCh() <-chan error {
	return p.errorCh
}

func (p *Pipeline) Stage(name string) *Stage {
	return p.stages[name]
}

func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting pipeline", "minDepth", p.config.MinDepth, "channelSize", p.config.Workers.ChannelSize)

	p.run(ctx, stageConfirm, p.confirmLoop)
	p.run(ctx, stageEnrich, p.enrichLoop)
	p.run(ctx, stageReduce, p.reduceLoop)
	p.run(ctx, stageStorage, p.storageLoop)

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.monitor.Run(ctx)
	}()
}

func (p *Pipeline) Close() error {
	p.once.Do(func() {
		p.logger.Info("Closing pipeline")

		if p.cancel != nil {
			p.cancel()
		}

		p.wg.Wait()
		p.monitor.Sample()
	})

	return nil
}

func (p *Pipeline) run(ctx context.Context, name string, loop func(context.Context, *Stage) error) {
	stage := p.stages[name]

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		err := loop(ctx, stage)
		if err == nil || ctx.Err() != nil && common.IsContextDoneErr(err) {
			stage.setState(StageDone)

			return
		}

		stage.setState(StageFailed)
		stage.logger.Error("Stage failed", "err", err)

		select {
		case p.errorCh <- fmt.Errorf("%s stage: %w", name, err):
		default:
		}

		// no forward progress after a failure
		p.cancel()
	}()
}

// handle applies the error policy to err. A non nil result stops the stage.
func (p *Pipeline) handle(stage *Stage, err error, msg string, args ...interface{}) (indexer.PolicyAction, error) {
	action, fatalErr := p.policy.Apply(stage.logger, err, msg, args...)

	p.deps.Metrics.ObservePolicyAction(string(indexer.ClassOf(err)), string(action))

	return action, fatalErr
}

// withRetry repeats handler while it fails with a storage error.
func withRetry[T any](ctx context.Context, p *Pipeline, stage *Stage, handler func(context.Context) (T, error)) (T, error) {
	options := append(p.config.StorageRetry.Options(stage.logger),
		common.WithIsRetryableError(func(err error) bool {
			return errors.Is(err, indexer.ErrStorage) && !common.IsContextDoneErr(err)
		}))

	return common.ExecuteWithRetry(ctx, handler, options...)
}

// Options converts the config to retry options, zero fields keep the retry defaults.
func (rc RetryConfig) Options(logger hclog.Logger) []common.RetryConfigOption {
	options := []common.RetryConfigOption{common.WithLogger(logger)}

	if rc.Attempts > 0 {
		options = append(options, common.WithRetryCount(rc.Attempts))
	}

	if rc.InitialDelay > 0 {
		options = append(options, common.WithRetryWaitTime(rc.InitialDelay))
	}

	if rc.MaxDelay > 0 {
		options = append(options, common.WithMaxRetryWaitTime(rc.MaxDelay))
	}

	if rc.BackoffMultiplier > 0 {
		options = append(options, common.WithBackoffMultiplier(rc.BackoffMultiplier))
	}

	return options
}

func withDefaults(config WorkersConfig) WorkersConfig {
	if config.ChannelSize <= 0 {
		config.ChannelSize = 16
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Second * 10
	}

	if config.TickTimeout <= 0 {
		config.TickTimeout = time.Second * 5
	}

	if config.MonitorInterval <= 0 {
		config.MonitorInterval = time.Second * 15
	}

	return config
}
