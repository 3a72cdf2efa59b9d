package ogmios

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	syncStartTriesDefault = 4

	findIntersectionMethod = "findIntersection"
	nextBlockMethod        = "nextBlock"

	findIntersectionID = "int"
	nextBlockID        = "nb"
)

type BlockSyncerConfig struct {
	URL            string        `json:"url" yaml:"url"`
	RestartOnError bool          `json:"restartOnError" yaml:"restartOnError"`
	RestartDelay   time.Duration `json:"restartDelay" yaml:"restartDelay"`
	SyncStartTries int           `json:"syncStartTries" yaml:"syncStartTries"`
}

// BlockSyncerImpl follows the chain through the ogmios chain-sync json-rpc api. Forward
// blocks are handed over as raw json, BlockDecoder turns them into the block model.
type BlockSyncerImpl struct {
	connection   *websocket.Conn
	blockHandler indexer.BlockSyncerHandler
	config       *BlockSyncerConfig
	logger       hclog.Logger

	errorCh  chan error
	closeCh  chan struct{}
	lock     sync.Mutex
	isClosed bool
}

var _ indexer.BlockSyncer = (*BlockSyncerImpl)(nil)

func NewBlockSyncer(
	config *BlockSyncerConfig, blockHandler indexer.BlockSyncerHandler, logger hclog.Logger,
) *BlockSyncerImpl {
	return &BlockSyncerImpl{
		blockHandler: blockHandler,
		config:       config,
		errorCh:      make(chan error, 1),
		closeCh:      make(chan struct{}),
		logger:       logger,
	}
}

func (bs *BlockSyncerImpl) Sync() (err error) {
	cntTries := bs.config.SyncStartTries
	if cntTries <= 0 {
		cntTries = syncStartTriesDefault
	}

	for i := 1; i <= cntTries; i++ {
		if err = bs.syncExecute(); err == nil {
			break
		} else if i < cntTries {
			bs.logger.Warn("Error while starting syncer", "err", err, "attempt", i, "of", cntTries)
		}

		select {
		case <-bs.closeCh:
			return
		case <-time.After(bs.config.RestartDelay):
		}
	}

	return err
}

func (bs *BlockSyncerImpl) Close() error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	if !bs.isClosed {
		bs.isClosed = true

		close(bs.closeCh)
		bs.closeConnectionNoLock()
	}

	return nil
}

func (bs *BlockSyncerImpl) ErrorCh() <-chan error {
	return bs.errorCh
}

func (bs *BlockSyncerImpl) syncExecute() error {
	select {
	case <-bs.closeCh:
		return nil
	default:
	}

	// two syncExecute calls must not run in parallel
	bs.lock.Lock()
	defer bs.lock.Unlock()

	bs.closeConnectionNoLock()

	bs.logger.Debug("Start syncing requested", "url", bs.config.URL)

	connection, _, err := websocket.DefaultDialer.Dial(bs.config.URL, nil)
	if err != nil {
		return err
	}

	bs.connection = connection

	bs.logger.Debug("Connection established", "url", bs.config.URL)

	point, err := bs.blockHandler.Reset()
	if err != nil {
		return err
	}

	// intersection must be requested before the reader starts asking for blocks
	if err := sendFindIntersection(connection, point); err != nil {
		return err
	}

	go func() {
		err := bs.mainLoop(connection)
		// a replaced connection was closed on purpose
		if bs.isCurrent(connection) {
			bs.handleError(err)
		}
	}()

	bs.logger.Debug("Syncing started", "url", bs.config.URL, "point", point)

	return nil
}

func (bs *BlockSyncerImpl) handleError(err error) {
	select {
	case <-bs.closeCh:
		return
	default:
	}

	if !strings.Contains(err.Error(), indexer.ErrFatal.Error()) && bs.config.RestartOnError {
		bs.logger.Warn("Error happened during synchronization", "err", err)

		select {
		case <-bs.closeCh:
			return
		case <-time.After(bs.config.RestartDelay):
		}

		if err := bs.Sync(); err != nil {
			bs.logger.Error("Error happened while trying to restart the synchronization", "err", err)
			bs.errorCh <- err
		}
	} else {
		bs.logger.Error("Error happened during synchronization. Restart the syncer manually.", "err", err)
		bs.errorCh <- err
	}
}

// mainLoop ends when the connection is closed or a message could not be handled.
func (bs *BlockSyncerImpl) mainLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var response ogmiosResponse

		if err = json.Unmarshal(message, &response); err != nil {
			return err
		}

		if response.Error != nil {
			return fmt.Errorf("reader error %d: %s", response.Error.Code, response.Error.Message)
		}

		// find intersection only moves the node side cursor
		if response.ID == nextBlockID {
			if err := bs.handleNextBlock(response.Result); err != nil {
				return err
			}
		}

		if err = sendNextBlock(conn); err != nil {
			return err
		}
	}
}

func (bs *BlockSyncerImpl) handleNextBlock(result json.RawMessage) error {
	var nextBlockResult ogmiosResponseNextBlock

	if err := json.Unmarshal(result, &nextBlockResult); err != nil {
		return err
	}

	if nextBlockResult.Direction == directionForward {
		var header ogmiosBlockHeader

		if err := json.Unmarshal(nextBlockResult.Block, &header); err != nil {
			return err
		}

		if header.Hash == "" {
			return errors.New("forward block without id")
		}

		block, err := header.toRawBlock(nextBlockResult.Block)
		if err != nil {
			return err
		}

		bs.logger.Debug("Roll forward", "slot", block.Point.Slot, "hash", block.Point.Hash, "number", block.Number)

		return bs.blockHandler.RollForward(block)
	}

	var point ogmiosPoint

	// the origin is sent as a plain string
	if err := json.Unmarshal(nextBlockResult.Point, &point); err != nil {
		bs.logger.Debug("Roll backward to origin")

		return bs.blockHandler.RollBackward(indexer.Point{})
	}

	bs.logger.Debug("Roll backward", "slot", point.Slot, "hash", point.Hash)

	rollbackPoint, err := point.toPoint()
	if err != nil {
		return fmt.Errorf("roll backward: %w", err)
	}

	return bs.blockHandler.RollBackward(rollbackPoint)
}

func (bs *BlockSyncerImpl) isCurrent(conn *websocket.Conn) bool {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	return bs.connection == conn
}

func (bs *BlockSyncerImpl) closeConnectionNoLock() {
	if oldConn := bs.connection; oldConn != nil {
		bs.logger.Debug("Closing old connection")

		if err := oldConn.Close(); err != nil {
			bs.logger.Warn("Error while closing previous connection", "err", err)
		} else {
			bs.logger.Debug("Old connection has been closed")
		}

		bs.connection = nil
	}
}
