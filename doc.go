// Package agion is an embedded governance client for AI agent processes.
//
// The client enforces organizational policy at the point of action: a
// permission check runs against locally cached, pre-compiled rules in
// microseconds, while background workers keep those rules in sync with
// the governance service and stream behavioral events out without ever
// blocking the caller.
//
// Typical use:
//
//	cfg := agion.DefaultConfig()
//	cfg.GatewayURL = "https://governance.example.com"
//	cfg.RedisURL = "redis://localhost:6379"
//	cfg.AgentID = "billing-agent"
//
//	client, err := agion.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	run := agion.Governed(client, agion.GovernedCall{
//		ResourceID:     "openai-gpt4",
//		PermissionType: agion.PermissionUse,
//	}, callModel)
//	out, err := run(ctx)
//
// Denials surface as *PermissionDeniedError before the wrapped function
// runs. When the governance service is unreachable, the configured
// fail-open or fail-closed policy decides.
package agion
