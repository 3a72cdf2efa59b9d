package indexer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	HashSize = 32

	originPointText = "origin"
)

type Hash [HashSize]byte

func NewHashFromHexString(hash string) Hash {
	v, _ := hex.DecodeString(strings.TrimPrefix(hash, "0x"))

	return NewHashFromBytes(v)
}

// ParseHash decodes a hex hash of exactly HashSize bytes.
func ParseHash(hash string) (Hash, error) {
	v, err := hex.DecodeString(strings.TrimPrefix(hash, "0x"))
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", hash, err)
	}

	if len(v) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", hash, HashSize, len(v))
	}

	return NewHashFromBytes(v), nil
}

func NewHashFromBytes(bytes []byte) Hash {
	var h Hash

	copy(h[:], bytes)

	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Point is a chain position. The zero value is the origin.
type Point struct {
	Slot uint64 `cbor:"1,keyasint" json:"slot"`
	Hash Hash   `cbor:"2,keyasint" json:"hash"`
}

func NewPoint(slot uint64, hash Hash) Point {
	return Point{Slot: slot, Hash: hash}
}

func (p Point) IsOrigin() bool {
	return p.Hash.IsZero()
}

func (p Point) Equal(other Point) bool {
	return p.Slot == other.Slot && p.Hash == other.Hash
}

func (p Point) String() string {
	if p.IsOrigin() {
		return originPointText
	}

	return fmt.Sprintf("%d,%s", p.Slot, p.Hash)
}

// ParsePoint is the inverse of Point.String
func ParsePoint(value string) (Point, error) {
	value = strings.TrimSpace(value)
	if value == originPointText || value == "" {
		return Point{}, nil
	}

	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid point: %s", value)
	}

	slot, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid point slot: %w", err)
	}

	hash, err := ParseHash(parts[1])
	if err != nil {
		return Point{}, fmt.Errorf("invalid point hash: %w", err)
	}

	return NewPoint(slot, hash), nil
}

// RawBlock is a block as delivered by the source: a point plus opaque bytes the
// decoder understands. Type is the decoder specific block type.
type RawBlock struct {
	Point  Point  `cbor:"1,keyasint"`
	Number uint64 `cbor:"2,keyasint"`
	Type   uint   `cbor:"3,keyasint"`
	Era    uint8  `cbor:"4,keyasint"`
	Bytes  []byte `cbor:"5,keyasint"`
}

func (rb RawBlock) String() string {
	return fmt.Sprintf("slot = %d, hash = %s, num = %d, era = %d", rb.Point.Slot, rb.Point.Hash, rb.Number, rb.Era)
}

type Block struct {
	Point  Point
	Number uint64
	Era    uint8
	Txs    []*Tx
}

type Tx struct {
	Hash     Hash        `cbor:"1,keyasint"`
	Index    uint32      `cbor:"2,keyasint"`
	Fee      uint64      `cbor:"3,keyasint"`
	Valid    bool        `cbor:"4,keyasint"`
	Metadata []byte      `cbor:"5,keyasint,omitempty"`
	Inputs   []TxInput   `cbor:"6,keyasint"`
	Outputs  []*TxOutput `cbor:"7,keyasint"`
}

type TxInput struct {
	Hash  Hash   `cbor:"1,keyasint"`
	Index uint32 `cbor:"2,keyasint"`
}

type TokenAmount struct {
	PolicyID string `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	Amount   uint64 `cbor:"3,keyasint"`
}

type TxOutput struct {
	Address   string        `cbor:"1,keyasint"`
	Amount    uint64        `cbor:"2,keyasint"`
	Tokens    []TokenAmount `cbor:"3,keyasint,omitempty"`
	Datum     []byte        `cbor:"4,keyasint,omitempty"`
	DatumHash Hash          `cbor:"5,keyasint"`
}

// ResolvedOutput is an output referenced by an input together with the era of
// the block that produced it.
type ResolvedOutput struct {
	Era    uint8
	Output *TxOutput
}

// BlockContext holds the outputs referenced by the inputs of one block.
// It lives only while the block is processed.
type BlockContext struct {
	resolved map[TxInput]ResolvedOutput
	misses   []TxInput
}

func NewBlockContext() *BlockContext {
	return &BlockContext{
		resolved: map[TxInput]ResolvedOutput{},
	}
}

func (bc *BlockContext) AddResolved(input TxInput, output ResolvedOutput) {
	bc.resolved[input] = output
}

func (bc *BlockContext) AddMiss(input TxInput) {
	bc.misses = append(bc.misses, input)
}

// Find returns the output spent by input if it was resolved.
func (bc *BlockContext) Find(input TxInput) (*TxOutput, bool) {
	if bc == nil {
		return nil, false
	}

	res, exists := bc.resolved[input]

	return res.Output, exists
}

// Get returns the resolved output of input together with its era.
func (bc *BlockContext) Get(input TxInput) (ResolvedOutput, bool) {
	if bc == nil {
		return ResolvedOutput{}, false
	}

	res, exists := bc.resolved[input]

	return res, exists
}

func (bc *BlockContext) Hits() int {
	if bc == nil {
		return 0
	}

	return len(bc.resolved)
}

func (bc *BlockContext) Misses() []TxInput {
	if bc == nil {
		return nil
	}

	return bc.misses
}

type ChainEventKind uint8

const (
	ChainEventRollForward ChainEventKind = iota + 1
	ChainEventRollBackward
	// ChainEventReset tells the pipeline that the source (re)started from Point
	ChainEventReset
)

// ChainEvent is the inbound message of the pipeline.
type ChainEvent struct {
	Kind  ChainEventKind
	Point Point
	Block *RawBlock
}

func (ce ChainEvent) String() string {
	switch ce.Kind {
	case ChainEventRollForward:
		return fmt.Sprintf("forward (%s)", ce.Point)
	case ChainEventRollBackward:
		return fmt.Sprintf("backward (%s)", ce.Point)
	case ChainEventReset:
		return fmt.Sprintf("reset (%s)", ce.Point)
	default:
		return fmt.Sprintf("unknown (%d)", ce.Kind)
	}
}

func (ti TxInput) String() string {
	return fmt.Sprintf("%s#%d", ti.Hash, ti.Index)
}

// Key returns the 36 byte binary form: tx hash followed by big endian index.
func (ti TxInput) Key() []byte {
	key := make([]byte, HashSize+4)

	copy(key, ti.Hash[:])
	binary.BigEndian.PutUint32(key[HashSize:], ti.Index)

	return key
}

func NewTxInputFromKey(key []byte) (TxInput, error) {
	if len(key) != HashSize+4 {
		return TxInput{}, fmt.Errorf("invalid tx input key length: %d", len(key))
	}

	return TxInput{
		Hash:  NewHashFromBytes(key[:HashSize]),
		Index: binary.BigEndian.Uint32(key[HashSize:]),
	}, nil
}

// SlotNumberToKey converts a slot number to a byte array of size 8
func SlotNumberToKey(slotNumber uint64) []byte {
	bytes := make([]byte, 8)

	binary.BigEndian.PutUint64(bytes, slotNumber)

	return bytes
}

func KeyToSlotNumber(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
