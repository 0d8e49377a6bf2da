package document

import (
	"context"

	"github.com/jlrickert/docpkg/pkg/store"
)

// Hooks are the callbacks the surrounding application supplies. The
// coordinator never inspects additional content; it only hands what
// ProvideAdditionalContent returned to ConsumeAdditionalContent.
type Hooks interface {
	// ProvideAdditionalContent snapshots the non-graph state for one save.
	// It runs on the goroutine that requested the save, before anything is
	// backgrounded. Returning nil content means there is nothing to write.
	ProvideAdditionalContent(ctx context.Context, location string, kind SaveKind) (any, error)

	// ConsumeAdditionalContent writes content to dst, which does not exist
	// yet. original is the additional content of the package being saved
	// from, "" when there is none. It runs on the save worker.
	ConsumeAdditionalContent(ctx context.Context, content any, dst, original string, kind SaveKind) error

	// ReadAdditionalContent loads the additional content at location after
	// an open or revert. location is "" when the package has none.
	ReadAdditionalContent(ctx context.Context, location string) error

	// UpdateMetadata runs on the save worker right before the store is
	// flushed. An error aborts the save before anything durable changes.
	UpdateMetadata(ctx context.Context, s *store.Store) error

	// ConfigureStore customises the store before it is opened or first
	// created. url is the store location, "" for a new document.
	ConfigureStore(ctx context.Context, url, fileType, modelConfiguration string, opts *store.Options) error
}

// NopHooks implements Hooks with no additional content and no store
// customisation. Embed it to override only what is needed.
type NopHooks struct{}

func (NopHooks) ProvideAdditionalContent(context.Context, string, SaveKind) (any, error) {
	return nil, nil
}

func (NopHooks) ConsumeAdditionalContent(context.Context, any, string, string, SaveKind) error {
	return nil
}

func (NopHooks) ReadAdditionalContent(context.Context, string) error { return nil }

func (NopHooks) UpdateMetadata(context.Context, *store.Store) error { return nil }

func (NopHooks) ConfigureStore(context.Context, string, string, string, *store.Options) error {
	return nil
}

var _ Hooks = NopHooks{}
