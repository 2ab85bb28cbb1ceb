// Package notify turns validated ticks into volatility alerts. Each tracked
// symbol owns one sliding aggregator per timeframe; tick mid-prices feed the
// aggregators and the pip range over a timeframe bucket is scored against
// configured thresholds on a logarithmic scale. Emitted scores pass through
// a priority-ordered manager that batches them into a single message at most
// once per flush interval, hands the batch to an alert queue (in-memory or
// Redis) and fans delivery out to the configured notification backends.
package notify
