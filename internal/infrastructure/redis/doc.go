// Package redis provides the optional Redis connection used to keep
// health-check cycles from overlapping when several SiteWatch replicas
// share one controller registry.
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    return err
//	}
//	lock := client.NewLock("sitewatch:healthcheck:cycle", cfg.Scheduler.Interval)
package redis
