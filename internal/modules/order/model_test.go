package order

import (
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusNone, StatusCreated},
		{StatusCreated, StatusPreparing},
		{StatusPreparing, StatusInDelivery},
		{StatusPreparing, StatusDisputed},
		{StatusInDelivery, StatusInDelivery},
		{StatusInDelivery, StatusDelivered},
		{StatusInDelivery, StatusDisputed},
		{StatusDisputed, StatusDelivered},
		{StatusDisputed, StatusVoided},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]Status{
		{StatusCreated, StatusDisputed},
		{StatusCreated, StatusDelivered},
		{StatusDelivered, StatusDisputed},
		{StatusVoided, StatusCreated},
		{StatusDisputed, StatusPreparing},
		{StatusPreparing, StatusCreated},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
}

func TestBreakdownBalanced(t *testing.T) {
	b := Breakdown{Goods: 100, DeliveryFee: 30, PlatformFee: 5, Total: 135}
	if !b.Balanced() {
		t.Fatalf("expected balanced")
	}
	b.Total = 134
	if b.Balanced() {
		t.Fatalf("expected unbalanced")
	}

	wrapped := Breakdown{Goods: math.MaxInt64, DeliveryFee: 1, Total: math.MinInt64}
	if wrapped.Balanced() {
		t.Fatalf("sum wrapping past MaxInt64 must not balance")
	}
	if (Breakdown{}).Balanced() {
		t.Fatalf("zero total must not balance")
	}
}

func TestCloneIsDeep(t *testing.T) {
	reason := "late"
	o := &Order{LineItems: []LineItem{{Name: "a", Quantity: 1}}, DisputeReason: &reason}
	c := o.Clone()
	c.LineItems[0].Name = "b"
	*c.DisputeReason = "early"
	if o.LineItems[0].Name != "a" || *o.DisputeReason != "late" {
		t.Fatalf("clone shares memory with original")
	}
}
