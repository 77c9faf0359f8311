package autoreplica

import "go.uber.org/zap"

// Option is a configuration option for a Driver instance
type Option func(*Driver)

// WithClassifier creates an Option for the given read-operation Classifier
//
// The classifier decides which operations are eligible for replica
// routing; anything it doesn't recognise stays on the primary.
func WithClassifier(c Classifier) Option {
	return func(d *Driver) {
		d.classifier = c
	}
}

// WithLogger creates an Option for the given zap logger
//
// Routing and connection lifecycle decisions are logged at Debug level to
// inspect proxying behaviour. DSNs are credential-scrubbed before logging.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}
