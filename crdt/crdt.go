package crdt

import (
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
)

// Kind is the convergence rule of a command.
type Kind uint8

const (
	// GrowOnlySetAdd unions Member into the set at Key
	GrowOnlySetAdd Kind = iota + 1
	// TwoPhaseSetAdd adds Member to the live set at Key
	TwoPhaseSetAdd
	// TwoPhaseSetRemove tombstones Member of the set at Key, a tombstoned member never comes back
	TwoPhaseSetRemove
	// LastWriteWins stores Value at Key only if Timestamp is not older than the stored one
	LastWriteWins
	// PNCounter adds Delta to the counter at Key
	PNCounter
	// SortedSetAdd adds Delta to the score of Member in the sorted set at Key
	SortedSetAdd
	// SortedSetRemove subtracts Delta from the score of Member in the sorted set at Key
	SortedSetRemove
	// AnyWriteWins overwrites Key with Value
	AnyWriteWins
)

var kindNames = map[Kind]string{
	GrowOnlySetAdd:    "growOnlySetAdd",
	TwoPhaseSetAdd:    "twoPhaseSetAdd",
	TwoPhaseSetRemove: "twoPhaseSetRemove",
	LastWriteWins:     "lastWriteWins",
	PNCounter:         "pnCounter",
	SortedSetAdd:      "sortedSetAdd",
	SortedSetRemove:   "sortedSetRemove",
	AnyWriteWins:      "anyWriteWins",
}

func (k Kind) String() string {
	if name, exists := kindNames[k]; exists {
		return name
	}

	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Command is one convergent mutation intent.
type Command struct {
	Kind      Kind
	Key       string
	Member    string
	Value     []byte
	Delta     int64
	Timestamp uint64
}

func (c Command) String() string {
	switch c.Kind {
	case GrowOnlySetAdd, TwoPhaseSetAdd, TwoPhaseSetRemove:
		return fmt.Sprintf("%s %s %s", c.Kind, c.Key, c.Member)
	case LastWriteWins:
		return fmt.Sprintf("%s %s @%d", c.Kind, c.Key, c.Timestamp)
	case PNCounter:
		return fmt.Sprintf("%s %s %+d", c.Kind, c.Key, c.Delta)
	case SortedSetAdd, SortedSetRemove:
		return fmt.Sprintf("%s %s %s %d", c.Kind, c.Key, c.Member, c.Delta)
	default:
		return fmt.Sprintf("%s %s", c.Kind, c.Key)
	}
}

func (c Command) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%s: empty key", c.Kind)
	}

	switch c.Kind {
	case GrowOnlySetAdd, TwoPhaseSetAdd, TwoPhaseSetRemove, SortedSetAdd, SortedSetRemove:
		if c.Member == "" {
			return fmt.Errorf("%s: empty member for key %s", c.Kind, c.Key)
		}
	case LastWriteWins, PNCounter, AnyWriteWins:
	default:
		return fmt.Errorf("unknown command kind: %d", c.Kind)
	}

	return nil
}

func NewGrowOnlySetAdd(key, member string) Command {
	return Command{Kind: GrowOnlySetAdd, Key: key, Member: member}
}

func NewTwoPhaseSetAdd(key, member string) Command {
	return Command{Kind: TwoPhaseSetAdd, Key: key, Member: member}
}

func NewTwoPhaseSetRemove(key, member string) Command {
	return Command{Kind: TwoPhaseSetRemove, Key: key, Member: member}
}

func NewLastWriteWins(key string, value []byte, timestamp uint64) Command {
	return Command{Kind: LastWriteWins, Key: key, Value: value, Timestamp: timestamp}
}

func NewPNCounter(key string, delta int64) Command {
	return Command{Kind: PNCounter, Key: key, Delta: delta}
}

func NewSortedSetAdd(key, member string, delta int64) Command {
	return Command{Kind: SortedSetAdd, Key: key, Member: member, Delta: delta}
}

func NewSortedSetRemove(key, member string, delta int64) Command {
	return Command{Kind: SortedSetRemove, Key: key, Member: member, Delta: delta}
}

func NewAnyWriteWins(key string, value []byte) Command {
	return Command{Kind: AnyWriteWins, Key: key, Value: value}
}

// ScoreDelta is the signed score change of a sorted set command.
func (c Command) ScoreDelta() int64 {
	if c.Kind == SortedSetRemove {
		return -c.Delta
	}

	return c.Delta
}

type MessageKind uint8

const (
	MessageBlockStarting MessageKind = iota + 1
	MessageCommand
	MessageBlockFinished
)

// Message is what the reduce stage sends to the storage sink: commands framed
// by the boundaries of the block they belong to.
type Message struct {
	Kind    MessageKind
	Point   indexer.Point
	Undo    bool
	Command Command
	// Cursor is set on MessageBlockFinished: the point to persist once the block is committed
	Cursor indexer.Point
}

func NewBlockStarting(point indexer.Point, undo bool) Message {
	return Message{Kind: MessageBlockStarting, Point: point, Undo: undo}
}

func NewCommandMessage(point indexer.Point, undo bool, cmd Command) Message {
	return Message{Kind: MessageCommand, Point: point, Undo: undo, Command: cmd}
}

func NewBlockFinished(point indexer.Point, undo bool, cursor indexer.Point) Message {
	return Message{Kind: MessageBlockFinished, Point: point, Undo: undo, Cursor: cursor}
}

func (m Message) String() string {
	mode := "apply"
	if m.Undo {
		mode = "undo"
	}

	switch m.Kind {
	case MessageBlockStarting:
		return fmt.Sprintf("block starting %s (%s)", m.Point, mode)
	case MessageBlockFinished:
		return fmt.Sprintf("block finished %s (%s), cursor = %s", m.Point, mode, m.Cursor)
	default:
		return fmt.Sprintf("command %s (%s)", m.Command, mode)
	}
}
