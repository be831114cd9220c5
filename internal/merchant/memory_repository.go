package merchant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kelo-pay/kelo/internal/httpx"
)

type memoryRepository struct {
	mu       sync.RWMutex
	stores   map[string]Store
	products map[string]Product
	payouts  []Payout
}

// NewMemoryRepository constructs an in-memory repository for tests and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{stores: make(map[string]Store), products: make(map[string]Product)}
}

func (r *memoryRepository) CreateStore(_ context.Context, s Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[s.ID]; ok {
		return fmt.Errorf("store %s already exists", s.ID)
	}
	r.stores[s.ID] = s
	return nil
}

func (r *memoryRepository) UpdateStore(_ context.Context, s Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[s.ID]; !ok {
		return ErrNotFound
	}
	r.stores[s.ID] = s
	return nil
}

func (r *memoryRepository) GetStore(_ context.Context, id string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return Store{}, ErrNotFound
	}
	return s, nil
}

func matches(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (r *memoryRepository) filterStores(f StoreFilter) []Store {
	var out []Store
	for _, s := range r.stores {
		if f.OwnerID != "" && s.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Category != "" && !strings.EqualFold(s.Category, f.Category) {
			continue
		}
		if !matches(f.Search, s.Name, s.Description) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memoryRepository) ListStores(_ context.Context, f StoreFilter, p httpx.Page) ([]Store, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.filterStores(f)
	return httpx.Window(all, p), len(all), nil
}

func (r *memoryRepository) AllStores(_ context.Context, f StoreFilter) ([]Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.filterStores(f)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

func (r *memoryRepository) CountStoresByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, s := range r.stores {
		out[s.Status]++
	}
	return out, nil
}

func (r *memoryRepository) CreateProduct(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *memoryRepository) UpdateProduct(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	r.products[p.ID] = p
	return nil
}

func (r *memoryRepository) DeleteProduct(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *memoryRepository) GetProduct(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepository) ListProducts(_ context.Context, f ProductFilter, pg httpx.Page) ([]Product, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Product
	for _, p := range r.products {
		if f.StoreID != "" && p.StoreID != f.StoreID {
			continue
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if !matches(f.Search, p.Name, p.Description) {
			continue
		}
		if f.ActiveOnly && r.stores[p.StoreID].Status != StatusActive {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return httpx.Window(all, pg), len(all), nil
}

func (r *memoryRepository) AdjustStock(_ context.Context, changes []StockChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]int, len(changes))
	for _, c := range changes {
		p, ok := r.products[c.ProductID]
		if !ok {
			return ErrProductNotFound
		}
		stock, seen := next[c.ProductID]
		if !seen {
			stock = p.Stock
		}
		stock += c.Delta
		if stock < 0 {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, c.ProductID)
		}
		next[c.ProductID] = stock
	}
	for id, stock := range next {
		p := r.products[id]
		p.Stock = stock
		r.products[id] = p
	}
	return nil
}

func (r *memoryRepository) CreatePayout(_ context.Context, p Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payouts {
		if existing.ClientTxID == p.ClientTxID {
			return fmt.Errorf("payout %s already recorded", p.ClientTxID)
		}
	}
	r.payouts = append(r.payouts, p)
	return nil
}

func (r *memoryRepository) PayoutByClientTxID(_ context.Context, clientTxID string) (Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payouts {
		if p.ClientTxID == clientTxID {
			return p, nil
		}
	}
	return Payout{}, ErrPayoutNotFound
}

func (r *memoryRepository) ListPayouts(_ context.Context, storeIDs []string, pg httpx.Page) ([]Payout, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Payout
	for i := len(r.payouts) - 1; i >= 0; i-- {
		for _, id := range storeIDs {
			if r.payouts[i].StoreID == id {
				all = append(all, r.payouts[i])
				break
			}
		}
	}
	return httpx.Window(all, pg), len(all), nil
}
