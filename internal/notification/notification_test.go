package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/gascredit/internal/logging"
)

type recordingNotifier struct {
	got []Message
	err error
}

func (r *recordingNotifier) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestRedisNotifierPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "credit:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewRedisNotifier(client, "credit:events")
	if err := n.Send(ctx, Message{Kind: KindCreditsMinted, Destination: "alice", Amount: 3, TotalSupply: 3}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Kind != KindCreditsMinted || decoded.Destination != "alice" || decoded.Amount != 3 {
		t.Fatalf("unexpected message %+v", decoded)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(msg.Payload), &fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	for _, key := range []string{"kind", "destination", "amount", "total_supply", "at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("payload missing %q: %s", key, msg.Payload)
		}
	}
	if len(fields) != 5 {
		t.Fatalf("unexpected payload fields: %s", msg.Payload)
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	f := Fanout{failing, nil, ok, NewLoggerNotifier(logging.Discard())}

	err := f.Send(context.Background(), Message{Kind: KindSaleFinalized})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(failing.got) != 1 || len(ok.got) != 1 {
		t.Fatalf("expected both notifiers to receive the message")
	}
}
