// smoke-claims drives a full submit → approve → verify flow against a
// running instance using the break-glass root credentials.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"clanledger.org/internal/client"
)

func main() {
	baseURL := os.Getenv("CLANLEDGER_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	rootID := os.Getenv("CLANLEDGER_ROOT_EXTERNAL_ID")
	secret := os.Getenv("CLANLEDGER_ROOT_SECRET")
	if rootID == "" || secret == "" {
		log.Fatal("CLANLEDGER_ROOT_EXTERNAL_ID and CLANLEDGER_ROOT_SECRET are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := client.New(baseURL).SignIn(ctx, rootID, secret)
	if err != nil {
		log.Fatalf("sign in: %v", err)
	}

	quantities := [3]int{2, 0, 1}
	claim, err := root.SubmitClaim(ctx, "ALCO", quantities, "smoke-proof.png")
	if err != nil {
		log.Fatalf("submit claim: %v", err)
	}
	if claim.Status != "PENDING" {
		log.Fatalf("expected PENDING claim, got %s", claim.Status)
	}

	decided, fanout, err := root.DecideClaim(ctx, claim.ID, "APPROVED", "smoke run")
	if err != nil {
		log.Fatalf("approve claim: %v", err)
	}
	if decided.Status != "APPROVED" {
		log.Fatalf("expected APPROVED claim, got %s", decided.Status)
	}
	if len(fanout) != 2 {
		log.Fatalf("expected 2 fan-out entries, got %d", len(fanout))
	}
	for _, entry := range fanout {
		if entry.PaymentStatus != "PAID" {
			log.Fatalf("fan-out entry %s is %s, want PAID", entry.ID, entry.PaymentStatus)
		}
		if entry.ClaimID != claim.ID {
			log.Fatalf("fan-out entry %s not linked to claim", entry.ID)
		}
	}

	// A second decision must lose.
	if _, _, err := root.DecideClaim(ctx, claim.ID, "REJECTED", "double"); err == nil {
		log.Fatal("second decision unexpectedly succeeded")
	}

	posted, err := root.ListEntries(ctx, claim.SubmitterID)
	if err != nil {
		log.Fatalf("list entries: %v", err)
	}
	found := 0
	for _, entry := range posted {
		if entry.ClaimID == claim.ID {
			found++
		}
	}
	if found != 2 {
		log.Fatalf("expected 2 posted entries for claim, found %d", found)
	}

	fmt.Printf("smoke test passed: claim=%s entries=%d\n", claim.ID, found)
}
