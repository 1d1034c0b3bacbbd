package model

import "testing"

func TestClassifyStatus(t *testing.T) {
	cases := map[string]StatusClass{
		"Completed":         StatusCompleted,
		"DELIVERED to door": StatusCompleted,
		"pending payment":   StatusPending,
		"Processing":        StatusPending,
		"Cancelled":         StatusCancelled,
		"payment failed":    StatusCancelled,
		"":                  StatusOther,
		"on hold":           StatusOther,
	}
	for in, want := range cases {
		if got := ClassifyStatus(in); got != want {
			t.Fatalf("ClassifyStatus(%q)=%s want=%s", in, got, want)
		}
	}
}

func TestIsConverted(t *testing.T) {
	if !IsConverted("Order Completed") || !IsConverted("delivered") {
		t.Fatalf("completed/delivered should convert")
	}
	if IsConverted("shipped") {
		t.Fatalf("shipped should not convert")
	}
}
