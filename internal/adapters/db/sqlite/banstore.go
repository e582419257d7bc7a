package sqlite

import (
	"context"
	"slices"
	"sync"

	"gorm.io/gorm"
)

// BanStore keeps banned addresses in the ip_bans table. Update runs inside a
// single transaction so the read and the write see the same set; writers in
// one process are serialized because sqlite cannot upgrade two concurrent
// read transactions to writers.
type BanStore struct {
	mu sync.Mutex
	db *gorm.DB
}

func NewBanStore(db *gorm.DB) *BanStore {
	return &BanStore{db: db}
}

func (s *BanStore) List(ctx context.Context) ([]string, error) {
	return listBans(s.db.WithContext(ctx))
}

func (s *BanStore) Update(ctx context.Context, fn func(current []string) ([]string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := listBans(tx)
		if err != nil {
			return err
		}
		next, err := fn(slices.Clone(current))
		if err != nil {
			return err
		}
		next = slices.Clone(next)
		slices.Sort(next)
		next = slices.Compact(next)

		for _, addr := range current {
			if !slices.Contains(next, addr) {
				if err := tx.Delete(&BanModel{}, "address = ?", addr).Error; err != nil {
					return err
				}
			}
		}
		for _, addr := range next {
			if addr == "" || slices.Contains(current, addr) {
				continue
			}
			if err := tx.Create(&BanModel{Address: addr}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func listBans(db *gorm.DB) ([]string, error) {
	out := make([]string, 0)
	if err := db.Model(&BanModel{}).Order("address").Pluck("address", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
