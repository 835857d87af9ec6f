//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bloodbridge/internal/identity/models"
	"bloodbridge/internal/identity/store"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
	"bloodbridge/pkg/testutil/containers"
)

type UserStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestUserStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(UserStoreSuite))
}

func (s *UserStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB)
}

func (s *UserStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func newTestUser(email string) *models.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.User{
		ID:           domain.NewEntityID(),
		Role:         domain.RoleDonor,
		Name:         "Test Donor",
		BloodGroup:   domain.BloodGroupAPos,
		Email:        email,
		PasswordHash: "$2a$10$notarealhashnotarealhashnotarealhash",
		Phone:        "555-0100",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *UserStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	user := newTestUser("donor@example.com")
	s.Require().NoError(s.store.Create(ctx, user))

	s.Run("by id", func() {
		found, err := s.store.FindByID(ctx, user.ID)
		s.Require().NoError(err)
		s.Equal(user.Email, found.Email)
		s.Equal(user.Role, found.Role)
		s.Equal(user.BloodGroup, found.BloodGroup)
	})

	s.Run("email lookup is case insensitive", func() {
		found, err := s.store.FindByEmail(ctx, "DONOR@example.com")
		s.Require().NoError(err)
		s.Equal(user.ID, found.ID)
	})

	s.Run("unknown id reports not found", func() {
		_, err := s.store.FindByID(ctx, domain.NewEntityID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *UserStoreSuite) TestDuplicateEmail() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newTestUser("dup@example.com")))

	err := s.store.Create(ctx, newTestUser("DUP@example.com"))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *UserStoreSuite) TestListByRole() {
	ctx := context.Background()
	first := newTestUser("first@example.com")
	second := newTestUser("second@example.com")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, second))

	org := newTestUser("org@example.com")
	org.Role = domain.RoleOrganisation
	org.Name = ""
	org.OrganisationName = "Red Drop Bank"
	s.Require().NoError(s.store.Create(ctx, org))

	donors, err := s.store.ListByRole(ctx, domain.RoleDonor)
	s.Require().NoError(err)
	s.Require().Len(donors, 2)
	s.Equal(second.ID, donors[0].ID, "newest first")
}

func (s *UserStoreSuite) TestDelete() {
	ctx := context.Background()
	user := newTestUser("gone@example.com")
	s.Require().NoError(s.store.Create(ctx, user))

	s.Require().NoError(s.store.Delete(ctx, user.ID))

	_, err := s.store.FindByID(ctx, user.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Delete(ctx, user.ID), sentinel.ErrNotFound)
}
