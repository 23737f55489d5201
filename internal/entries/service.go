// Package entries is the data-access façade the commands use. It assigns ids
// and caches the full entry list between mutations.
package entries

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/maaser-tracker/constants"
	"github.com/joseph-ayodele/maaser-tracker/internal/common"
	"github.com/joseph-ayodele/maaser-tracker/internal/entity"
	"github.com/joseph-ayodele/maaser-tracker/internal/period"
	"github.com/joseph-ayodele/maaser-tracker/internal/repository"
)

// Service handles entry business logic.
type Service struct {
	repo   repository.EntryRepository
	logger *slog.Logger

	mu     sync.Mutex
	cache  []entity.Entry
	cached bool
}

// NewService creates a new entry service.
func NewService(repo repository.EntryRepository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// CreateRequest represents entry creation parameters. An empty ID gets a
// fresh UUID.
type CreateRequest struct {
	ID              string
	Amount          float64
	Date            string
	AccountingMonth string
	Note            string
}

func (r CreateRequest) base() entity.Base {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return entity.Base{
		ID:              id,
		Amount:          r.Amount,
		Date:            strings.TrimSpace(r.Date),
		AccountingMonth: strings.TrimSpace(r.AccountingMonth),
		Note:            strings.TrimSpace(r.Note),
	}
}

// CreateIncome records income and its ma'aser at today's rate.
func (s *Service) CreateIncome(ctx context.Context, req CreateRequest) (entity.Entry, error) {
	return s.create(ctx, entity.NewIncome(req.base()))
}

func (s *Service) CreateDonation(ctx context.Context, req CreateRequest) (entity.Entry, error) {
	return s.create(ctx, entity.NewDonation(req.base()))
}

func (s *Service) create(ctx context.Context, e entity.Entry) (entity.Entry, error) {
	id, err := s.repo.Add(ctx, e)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	s.logger.Info("entry created", "id", id, "type", e.Type())
	return s.repo.Get(ctx, id)
}

// Update replaces the stored entry with the same id.
func (s *Service) Update(ctx context.Context, e entity.Entry) (entity.Entry, error) {
	id, err := s.repo.Update(ctx, e)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	s.logger.Info("entry deleted", "id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (entity.Entry, error) {
	return s.repo.Get(ctx, id)
}

// Invalidate drops the cached list. Callers that write to the repository
// directly, such as migration and restore, must call it afterwards.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.cached = false
}

// Filter narrows List. Month and a date range are mutually exclusive; Type
// combines with either.
type Filter struct {
	Type  constants.EntryType
	From  string
	To    string
	Month string
}

func (f Filter) validate() error {
	v := common.NewValidator()
	if f.Type != "" {
		v.Field("type", string(f.Type), common.OneOf(constants.EntryTypesAsStrings()...))
	}
	if f.Month != "" {
		v.Field("month", f.Month, common.Matches(period.Valid, "YYYY-MM"))
		if f.From != "" || f.To != "" {
			v.Fail("month", f.Month, "cannot be combined with a date range")
		}
	}
	if v.HasErrors() {
		return common.NewValidationError(v.Messages())
	}
	return nil
}

// List returns entries ordered by date. The unfiltered list is served from
// the cache when possible.
func (s *Service) List(ctx context.Context, f Filter) ([]entity.Entry, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var (
		out []entity.Entry
		err error
	)
	switch {
	case f.Month != "":
		out, err = s.repo.GetByAccountingMonth(ctx, f.Month)
	case f.From != "" || f.To != "":
		out, err = s.repo.GetByDateRange(ctx, f.From, f.To)
	case f.Type != "":
		return s.repo.GetByType(ctx, f.Type)
	default:
		return s.all(ctx)
	}
	if err != nil {
		return nil, err
	}
	if f.Type != "" {
		out = slices.DeleteFunc(out, func(e entity.Entry) bool { return e.Type() != f.Type })
	}
	return out, nil
}

func (s *Service) all(ctx context.Context) ([]entity.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cached {
		all, err := s.repo.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		s.cache = all
		s.cached = true
	}
	return slices.Clone(s.cache), nil
}
