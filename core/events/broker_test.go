package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBrokerBacklogAfterCursor(t *testing.T) {
	broker := NewBroker(16)
	user := common.HexToAddress("0x01")
	asset := common.HexToAddress("0x02")
	for seq := uint64(1); seq <= 5; seq++ {
		broker.Emit(Deposited{Sequence: seq, User: user, Asset: asset, Amount: big.NewInt(int64(seq))})
	}

	_, cancel, backlog := broker.Subscribe("3")
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog events after cursor 3, got %d", len(backlog))
	}
	if backlog[0].Sequence != 4 || backlog[1].Sequence != 5 {
		t.Fatalf("unexpected backlog sequences: %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}
	if backlog[0].Type != TypeDeposited {
		t.Fatalf("unexpected backlog type %q", backlog[0].Type)
	}
}

func TestBrokerLiveDelivery(t *testing.T) {
	broker := NewBroker(16)
	updates, cancel, backlog := broker.Subscribe("")
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	broker.Emit(Borrowed{Sequence: 1, User: common.HexToAddress("0x0a"), Asset: common.HexToAddress("0x0b"), Amount: big.NewInt(42)})

	select {
	case evt := <-updates:
		if evt.Sequence != 1 || evt.Type != TypeBorrowed {
			t.Fatalf("unexpected event %+v", evt)
		}
		if evt.Attributes["amount"] != "42" {
			t.Fatalf("unexpected amount attribute %q", evt.Attributes["amount"])
		}
	default:
		t.Fatalf("expected buffered live event")
	}
}

func TestBrokerHistoryTrim(t *testing.T) {
	broker := NewBroker(3)
	asset := common.HexToAddress("0x02")
	for seq := uint64(1); seq <= 10; seq++ {
		broker.Emit(Repaid{Sequence: seq, User: common.HexToAddress("0x01"), Asset: asset, Amount: big.NewInt(1)})
	}
	_, cancel, backlog := broker.Subscribe("")
	defer cancel()
	if len(backlog) != 3 {
		t.Fatalf("expected trimmed history of 3, got %d", len(backlog))
	}
	if backlog[0].Sequence != 8 {
		t.Fatalf("expected oldest retained sequence 8, got %d", backlog[0].Sequence)
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	broker := NewBroker(4)
	fan := Fanout{nil, broker, NoopEmitter{}}
	fan.Emit(Withdrawn{Sequence: 7, User: common.HexToAddress("0x01"), Asset: common.HexToAddress("0x02"), Amount: big.NewInt(9)})

	_, cancel, backlog := broker.Subscribe("")
	defer cancel()
	if len(backlog) != 1 || backlog[0].Sequence != 7 {
		t.Fatalf("fanout did not reach broker: %+v", backlog)
	}
}
