/*
Package resilience provides failure handling for calls into the cluster.

# Breaker

Breaker fails fast while a dependency is known to be down:

	Closed --[Threshold consecutive failures]-> Open --[Cooldown]-> Half-Open
	Half-Open --[Probes successes]-> Closed
	Half-Open --[failure]-> Open

	breaker := resilience.New("cluster-api", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	})
	err := breaker.Do(ctx, func(ctx context.Context) error {
		return client.Call(ctx)
	})

# Backoff

Backoff drives explicit retry loops, such as the command channel reconnect:

	policy := resilience.Fixed(500*time.Millisecond, 0)
	for attempt := 1; !policy.Exhausted(attempt); attempt++ {
		if err := policy.Wait(ctx, attempt); err != nil {
			return err
		}
		if err := reopen(ctx); err == nil {
			return nil
		}
	}
*/
package resilience
