/*
Package health probes external dependencies and tracks their state.

A Checker runs one probe. Status counts consecutive outcomes and flips
between healthy and unhealthy when a threshold is reached: FailureThreshold
failures to go unhealthy, SuccessThreshold successes to come back. Until
runs a Checker on an interval until the dependency is healthy again, which
is how the provider monitor waits out a provider outage.

	checker := health.NewHTTPChecker(baseURL + "/health").WithBearerToken(token)
	err := health.Until(ctx, checker, health.Config{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		SuccessThreshold: 10,
	}, nil)
*/
package health
