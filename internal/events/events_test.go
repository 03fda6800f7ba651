package events

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLogPublisherWritesDebugEntry(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	p := LogPublisher{Log: log}
	err := p.Publish(context.Background(), Event{Type: TypePaymentSucceeded, Reference: "ref-1", UserID: "u1", Amount: 5000})
	if err != nil {
		t.Fatal(err)
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("no entry logged")
	}
	if entry.Level != logrus.DebugLevel || entry.Data["reference"] != "ref-1" || entry.Data["amount"] != int64(5000) {
		t.Fatalf("unexpected entry: %v %v", entry.Level, entry.Data)
	}
	p.Close()
}

func TestLogPublisherQuietAtInfo(t *testing.T) {
	log, hook := test.NewNullLogger()
	if err := (LogPublisher{Log: log}).Publish(context.Background(), Event{Type: TypePayoutFailed}); err != nil {
		t.Fatal(err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("expected no entries at info level, got %d", len(hook.AllEntries()))
	}
}
