// Package service derives system-wide and per-entity stock reports from
// the ledger. All reads are fresh aggregations; nothing is cached.
package service

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/internal/ledger/store"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
)

type Service struct {
	store  store.Store
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// SystemWide reports whole-system stock per blood group. Inflow is blood
// entering the system (donor-scope outbound donations), outflow is blood
// leaving it (donor-scope inbound dispenses). All eight groups are
// always present, zero-defaulted.
func (s *Service) SystemWide(ctx context.Context) ([]models.Availability, error) {
	groups := domain.AllBloodGroups()
	report := make([]models.Availability, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	for i, bg := range groups {
		g.Go(func() error {
			donated, err := s.store.SumAll(ctx, models.ScopeUser, bg, models.DirectionOut)
			if err != nil {
				return err
			}
			dispensed, err := s.store.SumAll(ctx, models.ScopeUser, bg, models.DirectionIn)
			if err != nil {
				return err
			}
			report[i] = models.Availability{
				BloodGroup: bg,
				TotalIn:    donated,
				TotalOut:   dispensed,
				Available:  donated - dispensed,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "aggregate system stock")
	}
	return report, nil
}

// EntityReport is one dashboard row: an entity with all eight blood
// groups reported.
type EntityReport struct {
	Entity domain.EntityID       `json:"entity"`
	Groups []models.Availability `json:"groups"`
}

// ScopeDashboard reports every entity of a scope in one batched pass
// over the ledger instead of one aggregation per (entity, group) pair.
func (s *Service) ScopeDashboard(ctx context.Context, scope models.Scope) ([]EntityReport, error) {
	if !scope.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid ledger scope %q", scope)
	}
	totals, err := s.store.GroupTotals(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "aggregate scope totals")
	}

	type flow struct{ in, out int64 }
	byEntity := make(map[domain.EntityID]map[domain.BloodGroup]*flow)
	for _, t := range totals {
		groups, ok := byEntity[t.Entity]
		if !ok {
			groups = make(map[domain.BloodGroup]*flow)
			byEntity[t.Entity] = groups
		}
		f := groups[t.BloodGroup]
		if f == nil {
			f = &flow{}
			groups[t.BloodGroup] = f
		}
		if t.Direction == models.DirectionIn {
			f.in += t.Total
		} else {
			f.out += t.Total
		}
	}

	reports := make([]EntityReport, 0, len(byEntity))
	for entity, flows := range byEntity {
		row := EntityReport{
			Entity: entity,
			Groups: make([]models.Availability, 0, len(domain.AllBloodGroups())),
		}
		for _, bg := range domain.AllBloodGroups() {
			f := flows[bg]
			if f == nil {
				f = &flow{}
			}
			row.Groups = append(row.Groups, models.Availability{
				BloodGroup: bg,
				TotalIn:    f.in,
				TotalOut:   f.out,
				Available:  f.in - f.out,
			})
		}
		reports = append(reports, row)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Entity.String() < reports[j].Entity.String()
	})
	return reports, nil
}
