package service

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestBillingNudgerSweep(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := reconcileNow

	subscriber := func(id string, end time.Time, status domain.NudgeStatus) domain.User {
		u := completeUser(id)
		u.Plan = domain.PlanSilver
		u.IsActive = true
		u.SubscriptionEnd = &end
		u.BillingNudgeStatus = status
		return u
	}
	for _, u := range []domain.User{
		subscriber("expiring", now.Add(48*time.Hour), domain.NudgeActive),
		subscriber("later", now.AddDate(0, 0, 10), domain.NudgeActive),
		subscriber("lapsed", now.Add(-2*time.Hour), domain.Nudge72hSent),
		subscriber("lapsed-unnudged", now.Add(-5*time.Hour), ""),
		subscriber("just-lapsed", now.Add(-30*time.Minute), domain.Nudge72hSent),
	} {
		_ = s.Set(ctx, domain.CollectionUsers, u.ID, u)
	}

	var mailed []string
	mailer := channel.SenderFunc(func(ctx context.Context, to string, msg channel.Message) error {
		mailed = append(mailed, to)
		return nil
	})
	log, _ := test.NewNullLogger()
	b := NewBillingNudger(s, mailer, time.Hour, log)
	b.now = func() time.Time { return now }

	n, err := b.Sweep(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	slices.Sort(mailed)
	want := []string{"expiring@example.com", "lapsed-unnudged@example.com", "lapsed@example.com"}
	if !slices.Equal(mailed, want) {
		t.Fatalf("mailed %v, want %v", mailed, want)
	}

	get := func(id string) domain.User {
		var u domain.User
		_ = s.Get(ctx, domain.CollectionUsers, id, &u)
		return u
	}
	if u := get("expiring"); u.BillingNudgeStatus != domain.Nudge72hSent || u.Plan != domain.PlanSilver || u.LastNudgeDate == nil {
		t.Fatalf("expiring %+v", u)
	}
	for _, id := range []string{"lapsed", "lapsed-unnudged"} {
		if u := get(id); u.BillingNudgeStatus != domain.NudgeExpiredSent || u.Plan != domain.PlanFree || u.IsActive {
			t.Fatalf("%s %+v", id, u)
		}
	}
	if u := get("later"); u.BillingNudgeStatus != domain.NudgeActive {
		t.Fatalf("later %+v", u)
	}
	if u := get("just-lapsed"); u.Plan != domain.PlanSilver {
		t.Fatalf("grace period ignored: %+v", u)
	}

	if n, _ := b.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep moved %d users", n)
	}
}
