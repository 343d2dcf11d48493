package room

import (
	"log/slog"

	"github.com/Sicoc404/translated/pkg/room/audio"
	"github.com/Sicoc404/translated/pkg/room/caption"
	"github.com/Sicoc404/translated/pkg/room/transport"
)

// Option configures a Controller.
type Option func(*Controller)

// WithCredentialFetcher sets the credential source, usually a *token.Client.
func WithCredentialFetcher(fetcher CredentialFetcher) Option {
	return func(c *Controller) {
		c.tokens = fetcher
	}
}

// WithDialer sets the transport dialer. Defaults to a WebSocketDialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(c *Controller) {
		c.dialer = dialer
	}
}

// WithIdentity sets the participant identity requested from the token
// service. Empty means the token client generates one.
func WithIdentity(identity string) Option {
	return func(c *Controller) {
		c.identity = identity
	}
}

// WithLogger sets the logger for the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithSinkConfig sets playback buffering for attached audio tracks.
func WithSinkConfig(config audio.SinkConfig) Option {
	return func(c *Controller) {
		c.sinkConfig = config
	}
}

// WithStateListener registers a callback invoked on every connection state
// change. The callback runs on the controller's event goroutine and must not
// call back into the controller.
func WithStateListener(listener func(ConnectionState)) Option {
	return func(c *Controller) {
		c.stateListener = listener
	}
}

// WithCaptionListener registers a callback invoked whenever caption state
// changes. Same calling rules as WithStateListener.
func WithCaptionListener(listener func(caption.State)) Option {
	return func(c *Controller) {
		c.captionListener = listener
	}
}
