// Package market contains the typed market data models (ticks and OHLC
// bars), the validation rules applied to raw MT4 payloads, and the handler
// that routes validated messages to persistence and the volatility
// notifier.
package market
