package config

// Watcher hands out the live configuration and notifies subscribers of
// every successfully reloaded version. Close ends all subscriptions.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
