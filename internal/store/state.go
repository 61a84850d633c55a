package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helloworlde/meshkeeper/internal/models"
)

// StateStore keeps one account's snapshot and action queue as JSON blobs.
type StateStore struct {
	blobs   BlobStore
	account string
}

func NewStateStore(blobs BlobStore, account string) *StateStore {
	return &StateStore{blobs: blobs, account: account}
}

func (s *StateStore) key(kind string) string {
	return kind + ":" + s.account
}

// LoadSnapshot returns nil without error when nothing was saved yet.
func (s *StateStore) LoadSnapshot() (*models.AccountSnapshot, error) {
	var snap models.AccountSnapshot
	found, err := s.load(s.key("snapshot"), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (s *StateStore) SaveSnapshot(snap *models.AccountSnapshot) error {
	if snap == nil {
		return s.blobs.Delete(s.key("snapshot"))
	}
	return s.save(s.key("snapshot"), snap)
}

func (s *StateStore) LoadQueue() ([]models.QueuedAction, error) {
	var entries []models.QueuedAction
	if _, err := s.load(s.key("queue"), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *StateStore) SaveQueue(entries []models.QueuedAction) error {
	if entries == nil {
		entries = []models.QueuedAction{}
	}
	return s.save(s.key("queue"), entries)
}

func (s *StateStore) load(key string, v interface{}) (bool, error) {
	raw, err := s.blobs.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *StateStore) save(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.blobs.Put(key, raw)
}
