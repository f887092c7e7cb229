// Live check against the production gateway.
//
// Walks through every step a client takes and prints PASS/FAIL for each:
// token discovery, identity fetch, connect, first dispatch, heartbeat ack
// and close.
//
// Prerequisites:
//   - A token in GATEWAY_TOKEN, or the desktop client's local storage
//   - Network access to discord.com and the gateway
//
// Usage:
//
//	go run ./cmd/gateway-probe
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	gateway "github.com/layr8/gateway-client"
	"github.com/layr8/gateway-client/credentials"
	"github.com/layr8/gateway-client/identity"
)

func main() {
	passed := 0
	failed := 0

	fmt.Println("=== Gateway Probe ===")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// --- Step 1: Token ---
	fmt.Println("[Step 1] Locate token...")
	token := os.Getenv("GATEWAY_TOKEN")
	if token == "" {
		var err error
		token, err = credentials.Find()
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("  PASS: found in local storage")
	} else {
		fmt.Println("  PASS: from GATEWAY_TOKEN")
	}
	passed++

	// --- Step 2: Identity ---
	fmt.Println("[Step 2] Fetch client identity...")
	md, err := identity.Fetch(ctx)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  PASS: version=%s build=%d os=%s\n", md.ClientVersion, md.BuildNumber, md.OSVersion)
	passed++

	// --- Step 3: Connect ---
	fmt.Println("[Step 3] Connect and identify...")
	var faults atomic.Int32
	client, err := gateway.Dial(ctx, gateway.Config{Token: token, Identity: md},
		gateway.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
		gateway.WithErrorHandler(func(e gateway.TransportError) {
			faults.Add(1)
			fmt.Printf("  fault: %v\n", &e)
		}),
	)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		if errors.Is(err, gateway.ErrAuthenticationFailed) {
			fmt.Println("  The token was rejected.")
		}
		os.Exit(1)
	}
	defer client.Close()
	fmt.Println("  PASS")
	passed++

	// --- Step 4: First dispatch ---
	fmt.Println("[Step 4] Wait for the first dispatch...")
	recvCtx, recvCancel := context.WithTimeout(ctx, 15*time.Second)
	env, err := receiveUntil(recvCtx, client, func(env *gateway.Envelope) bool { return env.Op == gateway.OpDispatch })
	recvCancel()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		failed++
	} else {
		fmt.Printf("  PASS: %s (seq %d)\n", env.Type, derefSeq(env.Seq))
		passed++
	}

	// --- Step 5: Heartbeat ack ---
	fmt.Println("[Step 5] Request a heartbeat ack...")
	var seq *int64
	if env != nil {
		seq = env.Seq
	}
	if err := client.Send(ctx, map[string]any{"op": int(gateway.OpHeartbeat), "d": seq}); err != nil {
		fmt.Printf("  FAIL: send: %v\n", err)
		failed++
	} else {
		ackCtx, ackCancel := context.WithTimeout(ctx, 15*time.Second)
		_, err := receiveUntil(ackCtx, client, func(env *gateway.Envelope) bool { return env.Op == gateway.OpHeartbeatAck })
		ackCancel()
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			failed++
		} else {
			fmt.Println("  PASS")
			passed++
		}
	}

	// --- Step 6: Close ---
	fmt.Println("[Step 6] Close...")
	if err := client.Close(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		failed++
	} else if client.State() != gateway.StateClosed {
		fmt.Printf("  FAIL: state %s after Close\n", client.State())
		failed++
	} else {
		fmt.Println("  PASS")
		passed++
	}

	// --- Summary ---
	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("  Passed:     %d\n", passed)
	fmt.Printf("  Failed:     %d\n", failed)
	fmt.Printf("  Reconnects: %d\n", client.Reconnects())
	fmt.Printf("  Faults:     %d\n", faults.Load())

	if failed > 0 {
		os.Exit(1)
	}
}

// receiveUntil returns the first envelope match accepts.
func receiveUntil(ctx context.Context, c *gateway.Client, match func(*gateway.Envelope) bool) (*gateway.Envelope, error) {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if match(env) {
			return env, nil
		}
	}
}

func derefSeq(seq *int64) int64 {
	if seq == nil {
		return 0
	}
	return *seq
}
