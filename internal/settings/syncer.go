package settings

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/panelsync/internal/client"
	"github.com/alfredjeanlab/panelsync/internal/model"
)

// Syncer reconciles the local record with the remote settings resource.
// The remote copy is authoritative: the local record is only written after
// the server has accepted a change, so a failed save never leaves the two
// disagreeing.
type Syncer struct {
	api   client.SettingsAPI
	store *Store
}

// NewSyncer returns a Syncer writing through api into store.
func NewSyncer(api client.SettingsAPI, store *Store) *Syncer {
	return &Syncer{api: api, store: store}
}

// Pull replaces the local record with the server's copy.
func (y *Syncer) Pull(ctx context.Context) (model.Settings, error) {
	remote, err := y.api.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("pulling settings: %w", err)
	}
	return y.store.Set(ctx, model.PatchFrom(*remote))
}

// Save validates patch against the current local value, sends the merged
// record to the server, then stores it. The server's echo is preferred when
// it is a valid record; a 204 or an acknowledgement body stores what was
// sent.
func (y *Syncer) Save(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	next := patch.Apply(y.store.Get(ctx))
	if err := model.ValidateSettings(next); err != nil {
		return model.Settings{}, err
	}

	saved, err := y.api.UpdateSettings(ctx, &next)
	if err != nil {
		return model.Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	if saved != nil && model.ValidateSettings(*saved) == nil {
		next = *saved
	}
	return y.store.Set(ctx, model.PatchFrom(next))
}
