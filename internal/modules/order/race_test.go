// README: Concurrency tests for order state transitions (run with -race).
package order

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestConcurrentConfirmPreparation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.create(t, "k-race-prep")

	const n = 12
	start := make(chan struct{})
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.ConfirmPreparation(ctx, ConfirmPreparationCommand{OrderID: o.ID, Actor: asMerchant})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrStateConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	events, err := h.svc.Events(ctx, o.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected created + preparing events, got %d", len(events))
	}
}

func TestConcurrentPickup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.inDelivery(t, "k-race-pickup")

	const n = 8
	start := make(chan struct{})
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.ConfirmPickup(ctx, ConfirmPickupCommand{OrderID: o.ID, Actor: asCourier})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrStateConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 pickup, got %d", success)
	}
}

func TestConcurrentDeliveryVsDispute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.inDelivery(t, "k-race-dispute")

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := h.svc.ConfirmDelivery(ctx, ConfirmDeliveryCommand{OrderID: o.ID, Actor: asClient})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := h.svc.OpenDispute(ctx, OpenDisputeCommand{OrderID: o.ID, Actor: asMerchant, Reason: "wrong address"})
		errs <- err
	}()
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrStateConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
	got, _ := h.svc.Get(ctx, o.ID)
	if got.Status != StatusDelivered && got.Status != StatusDisputed {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func TestConcurrentCreateSameKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const n = 6
	start := make(chan struct{})
	results := make(chan *Order, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			o, err := h.svc.Create(ctx, sampleCreate("k-race-create"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results <- o
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var first *Order
	for o := range results {
		if first == nil {
			first = o
			continue
		}
		if o.ID != first.ID || o.LedgerTxRef != first.LedgerTxRef {
			t.Fatalf("retries diverged: %d vs %d", o.ID, first.ID)
		}
	}
	if first == nil {
		t.Fatalf("no create succeeded")
	}
	events, _ := h.svc.Events(ctx, first.ID)
	if len(events) != 1 {
		t.Fatalf("expected one created event, got %d", len(events))
	}
}
