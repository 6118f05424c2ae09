package entity

import "context"

// Publisher owns a jetstream stream and must ensure it exists before the
// process starts serving.
type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}
