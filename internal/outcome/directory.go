// Package outcome reports finished softphone calls to the CRM backend.
package outcome

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sweeney/cloudconnect/internal/backend"
)

// CustomerLister is the part of the backend client the directory needs.
type CustomerLister interface {
	Customers(ctx context.Context, limit int) ([]backend.Customer, error)
}

// DirectoryLimit is the page size requested when loading customers.
const DirectoryLimit = 100

// Directory is a cached phone-number index of CRM customers.
type Directory struct {
	source CustomerLister

	mu      sync.RWMutex
	byPhone map[string]backend.Customer
}

func NewDirectory(source CustomerLister) *Directory {
	return &Directory{source: source, byPhone: map[string]backend.Customer{}}
}

// Refresh reloads the customer list. The previous index is kept on error.
func (d *Directory) Refresh(ctx context.Context) error {
	customers, err := d.source.Customers(ctx, DirectoryLimit)
	if err != nil {
		return fmt.Errorf("refreshing directory: %w", err)
	}

	index := make(map[string]backend.Customer, len(customers))
	for _, c := range customers {
		phone := strings.TrimSpace(c.Phone)
		if phone == "" {
			continue
		}
		if _, dup := index[phone]; dup {
			continue
		}
		index[phone] = c
	}

	d.mu.Lock()
	d.byPhone = index
	d.mu.Unlock()
	return nil
}

// Lookup finds the customer with exactly this phone number.
func (d *Directory) Lookup(number string) (backend.Customer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byPhone[strings.TrimSpace(number)]
	return c, ok
}

// CustomerName returns the display name for a dialled number.
func (d *Directory) CustomerName(number string) (string, bool) {
	c, ok := d.Lookup(number)
	if !ok || c.Name == "" {
		return "", false
	}
	return c.Name, true
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byPhone)
}
