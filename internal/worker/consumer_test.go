package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/notify"
	"github.com/lalithlochan/pulse/internal/push"
)

// fakeReceiver serves a fixed list of messages
type fakeReceiver struct {
	messages   []*invoke.Message
	receiveErr error

	deleted  []string
	released []string
}

func (f *fakeReceiver) Receive(ctx context.Context) (*invoke.Message, string, error) {
	if f.receiveErr != nil {
		return nil, "", f.receiveErr
	}
	if len(f.messages) == 0 {
		return nil, "", nil
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, "receipt-" + msg.ID, nil
}

func (f *fakeReceiver) Delete(ctx context.Context, receipt string) error {
	f.deleted = append(f.deleted, receipt)
	return nil
}

func (f *fakeReceiver) Release(ctx context.Context, receipt string, delaySeconds int32) error {
	f.released = append(f.released, receipt)
	return nil
}

func TestConsumerPoll(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		handlerErr   error
		wantDeleted  int
		wantReleased int
	}{
		{"handled", "notification", nil, 1, 0},
		{"handler error releases", "notification", errors.New("db down"), 0, 1},
		{"unknown target dropped", "unknown", nil, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recv := &fakeReceiver{messages: []*invoke.Message{{ID: "m1", Target: tt.target}}}
			c := NewConsumer(recv, ConsumerConfig{}, zap.NewNop())

			called := 0
			c.Handle("notification", func(ctx context.Context, msg *invoke.Message) error {
				called++
				return tt.handlerErr
			})

			if err := c.poll(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(recv.deleted) != tt.wantDeleted {
				t.Errorf("deleted = %d, want %d", len(recv.deleted), tt.wantDeleted)
			}
			if len(recv.released) != tt.wantReleased {
				t.Errorf("released = %d, want %d", len(recv.released), tt.wantReleased)
			}
		})
	}
}

func TestConsumerPoll_Empty(t *testing.T) {
	recv := &fakeReceiver{}
	c := NewConsumer(recv, ConsumerConfig{}, zap.NewNop())

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recv.deleted)+len(recv.released) != 0 {
		t.Error("empty poll should not touch the queue")
	}
}

func TestConsumerPoll_ReceiveError(t *testing.T) {
	recv := &fakeReceiver{receiveErr: errors.New("network")}
	c := NewConsumer(recv, ConsumerConfig{}, zap.NewNop())

	if err := c.poll(context.Background()); err == nil {
		t.Fatal("expected receive error")
	}
}

func TestConsumerStart_StopsOnCancel(t *testing.T) {
	recv := &fakeReceiver{}
	c := NewConsumer(recv, ConsumerConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.Start(ctx)
}

// fakePublisher returns canned results
type fakePublisher struct {
	got    *notify.Request
	result *notify.PublishResult
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, req *notify.Request) (*notify.PublishResult, error) {
	f.got = req
	return f.result, f.err
}

func invocation(t *testing.T, payload any) *invoke.Message {
	t.Helper()
	msg, err := invoke.NewMessage(invoke.TargetNotification, payload)
	if err != nil {
		t.Fatalf("building message: %v", err)
	}
	return msg
}

func TestNotificationHandler(t *testing.T) {
	stored := &notify.PublishResult{
		Notification: &db.Notification{ID: uuid.New()},
		Push:         &push.Result{Status: push.StatusSkipped, Reason: push.ReasonNoTopic},
	}

	tests := []struct {
		name    string
		result  *notify.PublishResult
		err     error
		wantErr bool
	}{
		{"published", stored, nil, false},
		{"validation error dropped", nil, &notify.ValidationError{Fields: []notify.FieldError{{Field: "title"}}}, false},
		{"unknown topic dropped", nil, &notify.NotFoundError{Kind: notify.KindTopic, Key: "ops"}, false},
		{"push failure not retried", stored, &push.DispatchError{StatusCode: 500}, false},
		{"database error retried", nil, errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{result: tt.result, err: tt.err}
			h := NotificationHandler(pub, zap.NewNop())

			err := h(context.Background(), invocation(t, notify.Request{Title: "Site down", Message: "cart failed", Severity: "high"}))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if pub.got == nil || pub.got.Title != "Site down" {
				t.Error("payload should be decoded into the request")
			}
		})
	}
}

func TestNotificationHandler_BadPayload(t *testing.T) {
	pub := &fakePublisher{}
	h := NotificationHandler(pub, zap.NewNop())

	err := h(context.Background(), &invoke.Message{ID: "m", Payload: json.RawMessage(`[1,2]`)})
	if err != nil {
		t.Fatalf("undecodable payload should be dropped, got %v", err)
	}
	if pub.got != nil {
		t.Error("publisher should not be called")
	}
}
