// Package ticket files complaints and tracks them by ticket id.
package ticket

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the format of every timestamp shown to users.
const TimeLayout = "2006-01-02 15:04:05"

const idPrefix = "CYBER-"

var ErrNotFound = errors.New("ticket not found")

type Status string

const (
	StatusUnderInvestigation Status = "Under Investigation"
	StatusResolved           Status = "Resolved"
	StatusClosed             Status = "Closed"
	StatusRejected           Status = "Rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnderInvestigation, StatusResolved, StatusClosed, StatusRejected:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

var (
	officers   = []string{"Officer Kumar", "Officer Singh", "Officer Sharma", "Officer Patel", "Officer Gupta"}
	priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}
)

// Attachment is an evidence file filed with a complaint.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// Complaint is what a citizen submits.
type Complaint struct {
	Native      map[string]string
	Canonical   map[string]string
	Category    string
	SubCategory string
	Evidence    []Attachment
}

// Record is a filed complaint.
type Record struct {
	ID          string            `json:"ticketId"`
	Native      map[string]string `json:"nativeData"`
	Canonical   map[string]string `json:"data"`
	Category    string            `json:"category"`
	SubCategory string            `json:"subCategory"`
	Status      Status            `json:"status"`
	FiledAt     time.Time         `json:"-"`
	UpdatedAt   time.Time         `json:"-"`
	AssignedTo  string            `json:"assignedTo"`
	Priority    Priority          `json:"priority"`
	Evidence    []Attachment      `json:"evidence,omitempty"`

	// ReportToken is handed only to the filer and unlocks the public
	// report download.
	ReportToken string `json:"-"`
}

// AllowsReport reports whether token unlocks this record's report.
func (r *Record) AllowsReport(token string) bool {
	if r.ReportToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.ReportToken), []byte(token)) == 1
}

func (r *Record) DateFiled() string   { return r.FiledAt.Format(TimeLayout) }
func (r *Record) LastUpdated() string { return r.UpdatedAt.Format(TimeLayout) }

func (r *Record) clone() *Record {
	c := *r
	c.Native = maps.Clone(r.Native)
	c.Canonical = maps.Clone(r.Canonical)
	c.Evidence = slices.Clone(r.Evidence)
	return &c
}

// Stats summarizes the store for the dashboard.
type Stats struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
	Active   int `json:"active"`
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand replaces the source used for handler and priority selection.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.intn = r.IntN }
}

// WithIDSource replaces the UUID generator behind ticket ids.
func WithIDSource(next func() uuid.UUID) Option {
	return func(s *Store) { s.newUUID = next }
}

// Store keeps complaint records in memory for the life of the process.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	now     func() time.Time
	intn    func(int) int
	newUUID func() uuid.UUID
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*Record),
		now:     time.Now,
		intn:    rand.IntN,
		newUUID: uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create files a complaint and returns its ticket id.
func (s *Store) Create(ctx context.Context, c Complaint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.generateID()
	for s.records[id] != nil {
		id = s.generateID()
	}

	now := s.now()
	s.records[id] = &Record{
		ID:          id,
		Native:      maps.Clone(c.Native),
		Canonical:   maps.Clone(c.Canonical),
		Category:    c.Category,
		SubCategory: c.SubCategory,
		Status:      StatusUnderInvestigation,
		FiledAt:     now,
		UpdatedAt:   now,
		AssignedTo:  officers[s.intn(len(officers))],
		Priority:    priorities[s.intn(len(priorities))],
		Evidence:    slices.Clone(c.Evidence),
		ReportToken: cryptorand.Text(),
	}
	return id, nil
}

func (s *Store) generateID() string {
	hex := strings.ReplaceAll(s.newUUID().String(), "-", "")
	return idPrefix + strings.ToUpper(hex[:8])
}

// Get returns a copy of the record. Ids are matched case-insensitively.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[normalizeID(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.update(ctx, id, func(r *Record) { r.Status = status })
}

// Assign sets the handling officer and priority. Empty values leave the
// current ones in place.
func (s *Store) Assign(ctx context.Context, id, officer string, priority Priority) error {
	if priority != "" && !priority.Valid() {
		return fmt.Errorf("invalid priority %q", priority)
	}
	return s.update(ctx, id, func(r *Record) {
		if officer = strings.TrimSpace(officer); officer != "" {
			r.AssignedTo = officer
		}
		if priority != "" {
			r.Priority = priority
		}
	})
}

func (s *Store) update(ctx context.Context, id string, fn func(*Record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[normalizeID(id)]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.records)}
	for _, r := range s.records {
		switch r.Status {
		case StatusResolved:
			st.Resolved++
		case StatusUnderInvestigation:
			st.Active++
		}
	}
	return st, nil
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
