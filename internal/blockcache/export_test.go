package blockcache

var (
	FlushedOpsTotal    = flushedOpsTotal
	FlushFailuresTotal = flushFailuresTotal
)
