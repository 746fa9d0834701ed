/*
Package tracing provides lightweight spans for timing remote commands and
API requests.

Every filesystem operation opens a span tagged with the target, verb and
ticket; the collector logs each finished span with its round trip time and
warns when it exceeds the slow threshold. HTTP requests propagate X-Trace-ID
so a daemon request and the channel commands it triggers share one trace.

	tracer := tracing.New("podfs", logger, time.Second)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(ctx, "mstat")
	span.SetTag("target", target.String())
	res, err := ch.Run(ctx, cmd)
	tracer.End(span, err)
*/
package tracing
