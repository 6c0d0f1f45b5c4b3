package domain

import "context"

// Transport connects accounts to the messaging platform.
type Transport interface {
	// Connect opens a session for the account. Invalid credentials are
	// reported as an auth error.
	Connect(ctx context.Context, account Account) (Session, error)
}

// Sender is the outbound half of a session, used by the delivery engine.
type Sender interface {
	// Forward re-posts msg to dest preserving the platform's forwarded attribution.
	Forward(ctx context.Context, dest int64, msg Message) error
	SendMedia(ctx context.Context, dest int64, media Media, caption string) error
	SendText(ctx context.Context, dest int64, text string) error
}

// Session is a connected client handle for one account.
type Session interface {
	Sender

	IsAuthorized(ctx context.Context) (bool, error)

	// Subscribe returns the stream of new inbound messages. The channel is
	// closed when the stream ends; a closed stream is not restartable and a
	// new session is required.
	Subscribe(ctx context.Context) (<-chan Message, error)

	Disconnect() error
}
