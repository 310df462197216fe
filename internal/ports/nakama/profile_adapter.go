package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"pylos/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// occAttempts bounds read-modify-write retries on version conflicts.
const occAttempts = 5

// ErrAlreadyRegistered is returned when an account already owns a player.
var ErrAlreadyRegistered = errors.New("account already has a player")

type storedProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Wins  int    `json:"wins"`
	Loses int    `json:"loses"`
}

func (p storedProfile) toProfile() ports.Profile {
	return ports.Profile{ID: p.ID, Name: p.Name, Wins: p.Wins, Loses: p.Loses}
}

type playerLink struct {
	PlayerID int64 `json:"player_id"`
}

type idCounter struct {
	Next int64 `json:"next"`
}

// NakamaProfileAdapter implements ports.ProfilePort on Nakama storage.
type NakamaProfileAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaProfileAdapter creates a new profile adapter.
func NewNakamaProfileAdapter(nk runtime.NakamaModule) *NakamaProfileAdapter {
	return &NakamaProfileAdapter{nk: nk}
}

// Lookup returns the profile stored for playerID.
func (a *NakamaProfileAdapter) Lookup(ctx context.Context, playerID int64) (ports.Profile, error) {
	p, _, err := a.readProfile(ctx, playerID)
	if err != nil {
		return ports.Profile{}, err
	}
	return p.toProfile(), nil
}

// RecordResult adds delta to the counters of playerID, retrying when a
// concurrent writer bumped the object version.
func (a *NakamaProfileAdapter) RecordResult(ctx context.Context, playerID int64, delta ports.ResultDelta) error {
	for attempt := 0; attempt < occAttempts; attempt++ {
		p, version, err := a.readProfile(ctx, playerID)
		if err != nil {
			return err
		}
		p.Wins += delta.Wins
		p.Loses += delta.Loses

		err = a.writeObjects(ctx, profileWrite(p, version))
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			continue
		}
		return err
	}
	return fmt.Errorf("record result for %d: %w", playerID, runtime.ErrStorageRejectedVersion)
}

// RegisterPlayer creates a player named name and links it to userID.
func (a *NakamaProfileAdapter) RegisterPlayer(ctx context.Context, userID, name string) (ports.Profile, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > ports.MaxPlayerNameLen {
		return ports.Profile{}, ports.ErrInvalidPlayerName
	}
	if _, err := a.LinkedPlayer(ctx, userID); err == nil {
		return ports.Profile{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ports.ErrProfileNotFound) {
		return ports.Profile{}, err
	}

	id, err := a.nextPlayerID(ctx)
	if err != nil {
		return ports.Profile{}, err
	}
	profile := storedProfile{ID: id, Name: name}
	link, err := json.Marshal(playerLink{PlayerID: id})
	if err != nil {
		return ports.Profile{}, err
	}

	// The name object is create-only, so a taken name rejects the whole batch.
	writes := []*runtime.StorageWrite{
		{
			Collection:      nameCollection,
			Key:             name,
			Value:           string(link),
			Version:         "*",
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
		profileWrite(profile, "*"),
		{
			Collection:      linkCollection,
			Key:             linkKey,
			UserID:          userID,
			Value:           string(link),
			Version:         "*",
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	}
	if err := a.writeObjects(ctx, writes...); err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return ports.Profile{}, ports.ErrPlayerNameTaken
		}
		return ports.Profile{}, err
	}
	return profile.toProfile(), nil
}

// LinkedPlayer returns the player id owned by the Nakama account userID.
func (a *NakamaProfileAdapter) LinkedPlayer(ctx context.Context, userID string) (int64, error) {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: linkCollection, Key: linkKey, UserID: userID},
	})
	if err != nil {
		return 0, fmt.Errorf("read player link: %w", err)
	}
	if len(objects) == 0 {
		return 0, ports.ErrProfileNotFound
	}
	var link playerLink
	if err := json.Unmarshal([]byte(objects[0].GetValue()), &link); err != nil {
		return 0, fmt.Errorf("decode player link: %w", err)
	}
	return link.PlayerID, nil
}

func (a *NakamaProfileAdapter) readProfile(ctx context.Context, playerID int64) (storedProfile, string, error) {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: profileCollection, Key: strconv.FormatInt(playerID, 10)},
	})
	if err != nil {
		return storedProfile{}, "", fmt.Errorf("read profile %d: %w", playerID, err)
	}
	if len(objects) == 0 {
		return storedProfile{}, "", ports.ErrProfileNotFound
	}
	var p storedProfile
	if err := json.Unmarshal([]byte(objects[0].GetValue()), &p); err != nil {
		return storedProfile{}, "", fmt.Errorf("decode profile %d: %w", playerID, err)
	}
	return p, objects[0].GetVersion(), nil
}

// nextPlayerID reserves the next id from the shared counter. Ids start at 1;
// 0 is the spectator id.
func (a *NakamaProfileAdapter) nextPlayerID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < occAttempts; attempt++ {
		objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
			{Collection: counterCollection, Key: counterKey},
		})
		if err != nil {
			return 0, fmt.Errorf("read id counter: %w", err)
		}
		counter := idCounter{Next: 1}
		version := "*"
		if len(objects) > 0 {
			if err := json.Unmarshal([]byte(objects[0].GetValue()), &counter); err != nil {
				return 0, fmt.Errorf("decode id counter: %w", err)
			}
			version = objects[0].GetVersion()
		}
		id := counter.Next
		value, err := json.Marshal(idCounter{Next: id + 1})
		if err != nil {
			return 0, err
		}
		err = a.writeObjects(ctx, &runtime.StorageWrite{
			Collection:      counterCollection,
			Key:             counterKey,
			Value:           string(value),
			Version:         version,
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, fmt.Errorf("allocate player id: %w", runtime.ErrStorageRejectedVersion)
}

func (a *NakamaProfileAdapter) writeObjects(ctx context.Context, writes ...*runtime.StorageWrite) error {
	if _, err := a.nk.StorageWrite(ctx, writes); err != nil {
		return fmt.Errorf("storage write: %w", err)
	}
	return nil
}

func profileWrite(p storedProfile, version string) *runtime.StorageWrite {
	value, _ := json.Marshal(p)
	return &runtime.StorageWrite{
		Collection:      profileCollection,
		Key:             strconv.FormatInt(p.ID, 10),
		Value:           string(value),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_PUBLIC_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}
}

var _ ports.ProfilePort = (*NakamaProfileAdapter)(nil)
