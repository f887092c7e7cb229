// Package gateway is a persistent client for a real-time event gateway
// spoken over WebSocket/TLS with zlib-stream compression and binary term
// encoded envelopes.
//
// The client authenticates, keeps the session alive with heartbeats and
// transparently reconnects on any transport fault, retrying the operation
// that observed it. Only terminal errors reach the caller:
//
//   - ErrAuthenticationFailed: the gateway rejected the token
//   - *ProxyRejectedError: the HTTP proxy refused the tunnel
//
// Recovered faults are reported to the ErrorHandler (LogErrors by default).
//
// Basic usage:
//
//	md, err := identity.Fetch(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := gateway.Dial(ctx, gateway.Config{
//	    Token:    token,
//	    Identity: md,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	for {
//	    env, err := client.Receive(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if env.Op == gateway.OpDispatch {
//	        fmt.Println(env.Type)
//	    }
//	}
//
// Handlers can be registered instead and driven by Run:
//
//	client.Handle("MESSAGE_CREATE", func(ctx context.Context, env *gateway.Envelope) error {
//	    body, err := env.Data.(gateway.Event).DecodeMap()
//	    ...
//	})
//	err = client.Run(ctx)
package gateway
