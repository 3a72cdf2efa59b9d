package ogmios

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
)

const (
	adaPolicyID  = "ada"
	lovelaceName = "lovelace"

	directionForward = "forward"
	spendsCollateral = "collaterals"
)

type ogmiosPoint struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"id"`
}

type ogmiosTxInput struct {
	Transaction struct {
		Hash string `json:"id"`
	} `json:"transaction"`
	Index uint32 `json:"index"`
}

type ogmiosValue map[string]map[string]uint64

type ogmiosTxOutput struct {
	Address   string      `json:"address"`
	Value     ogmiosValue `json:"value"`
	DatumHash string      `json:"datumHash"`
	Datum     string      `json:"datum"`
}

type ogmiosMetadata struct {
	Hash   string          `json:"hash"`
	Labels json.RawMessage `json:"labels"`
}

type ogmiosTransaction struct {
	Hash             string            `json:"id"`
	Metadata         *ogmiosMetadata   `json:"metadata"`
	Fee              ogmiosValue       `json:"fee"`
	Spends           string            `json:"spends"`
	Inputs           []*ogmiosTxInput  `json:"inputs"`
	Collaterals      []*ogmiosTxInput  `json:"collaterals"`
	Outputs          []*ogmiosTxOutput `json:"outputs"`
	CollateralReturn *ogmiosTxOutput   `json:"collateralReturn"`
}

// ogmiosBlockHeader is the part of a block the syncer needs, the rest is left for the decoder.
type ogmiosBlockHeader struct {
	Type   string `json:"type"`
	Era    string `json:"era"`
	Slot   uint64 `json:"slot"`
	Hash   string `json:"id"`
	Height uint64 `json:"height"`
}

type ogmiosBlock struct {
	ogmiosBlockHeader
	Transactions []*ogmiosTransaction `json:"transactions"`
}

type ogmiosError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type ogmiosIntersection[T ogmiosPoint | string] struct {
	Points []T `json:"points"`
}

type ogmiosRequest struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

type ogmiosResponse struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ogmiosError    `json:"error,omitempty"`
	ID      string          `json:"id"`
}

type ogmiosResponseNextBlock struct {
	Direction string          `json:"direction"`
	Point     json.RawMessage `json:"point,omitempty"`
	Block     json.RawMessage `json:"block,omitempty"`
}

func (p ogmiosPoint) toPoint() (indexer.Point, error) {
	hash, err := indexer.ParseHash(p.Hash)
	if err != nil {
		return indexer.Point{}, err
	}

	return indexer.NewPoint(p.Slot, hash), nil
}

func newOgmiosPoint(point indexer.Point) ogmiosPoint {
	return ogmiosPoint{
		Slot: point.Slot,
		Hash: point.Hash.String(),
	}
}

func (h ogmiosBlockHeader) toRawBlock(bytes []byte) (indexer.RawBlock, error) {
	hash, err := indexer.ParseHash(h.Hash)
	if err != nil {
		return indexer.RawBlock{}, fmt.Errorf("block at slot %d: %w", h.Slot, err)
	}

	return indexer.RawBlock{
		Point:  indexer.NewPoint(h.Slot, hash),
		Number: h.Height,
		Era:    eraToID(h.Era),
		Bytes:  bytes,
	}, nil
}

func (v ogmiosValue) lovelace() uint64 {
	return v[adaPolicyID][lovelaceName]
}

func eraToID(name string) uint8 {
	switch strings.ToLower(name) {
	case "byron":
		return 1
	case "shelley":
		return 2
	case "allegra":
		return 3
	case "mary":
		return 4
	case "alonzo":
		return 5
	case "babbage":
		return 6
	case "conway":
		return 7
	default:
		return 0
	}
}
