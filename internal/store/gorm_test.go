package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/store/migrations"
)

type GormStoreTestSuite struct {
	suite.Suite
	postgres *postgres.PostgresContainer
	db       *gorm.DB
}

func (s *GormStoreTestSuite) SetupSuite() {
	testcontainers.SkipIfProviderIsNotHealthy(s.T())

	postgresContainer, err := postgres.Run(
		s.T().Context(),
		"postgres:16.4-alpine",
		postgres.WithDatabase("pottery"),
		postgres.WithUsername("pottery"),
		postgres.WithPassword("pottery"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	s.Require().NoError(err, "failed to start postgres container")
	s.postgres = postgresContainer

	dsn, err := s.postgres.ConnectionString(s.T().Context())
	s.Require().NoError(err, "failed to get connection string to container")

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{TranslateError: true})
	s.Require().NoError(err, "failed to connect to the database")
	s.db = db

	_, err = migrations.Up(s.T().Context(), db)
	s.Require().NoError(err, "failed to run up migrations")
}

func (s *GormStoreTestSuite) TearDownSuite() {
	if s.postgres != nil {
		s.Require().NoError(testcontainers.TerminateContainer(s.postgres))
	}
}

// Not run inside a transaction, postgres aborts the whole transaction on the expected duplicate
// key errors
func (s *GormStoreTestSuite) TestContract() {
	testStore(s.T(), store.NewGormStore(s.db))
}

func (s *GormStoreTestSuite) TestMigrationsDown() {
	db, err := s.db.DB()
	s.Require().NoError(err)
	s.Require().NoError(migrations.Down(s.T().Context(), s.db))
	version, err := migrations.Version(s.T().Context(), db)
	s.Require().NoError(err)
	s.Equal(int64(0), version)

	version, err = migrations.Up(s.T().Context(), s.db)
	s.Require().NoError(err)
	s.Equal(int64(5), version)
	s.Require().NoError(db.PingContext(s.T().Context()))
}

func TestGormStoreTestSuite(t *testing.T) {
	suite.Run(t, new(GormStoreTestSuite))
}
