package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

func TestNetworkService_RegisterReferral(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewNetworkService(db, nil, config.LoadNetworkConfig())

	t.Run("registers a new edge", func(t *testing.T) {
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("parent-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO referral_edges").
			WithArgs("child-1", "parent-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		edge, err := service.RegisterReferral(context.Background(), "child-1", "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, "child-1", edge.ChildID)
		assert.Equal(t, "parent-1", edge.ParentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects self sponsorship", func(t *testing.T) {
		_, err := service.RegisterReferral(context.Background(), "user-1", "user-1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot sponsor themselves")
	})

	t.Run("rejects an edge that would close a cycle", func(t *testing.T) {
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("b").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("a", time.Now()))
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("a").
			WillReturnError(sql.ErrNoRows)

		_, err := service.RegisterReferral(context.Background(), "a", "b")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "would close a referral cycle")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second sponsor for the same child", func(t *testing.T) {
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("parent-2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO referral_edges").
			WithArgs("child-1", "parent-2", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := service.RegisterReferral(context.Background(), "child-1", "parent-2")
		assert.ErrorIs(t, err, ErrEdgeExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNetworkService_GetUpline(t *testing.T) {
	t.Run("walks the sponsor chain", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewNetworkService(db, nil, config.LoadNetworkConfig())

		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("p1", time.Now()))
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("p2", time.Now()))
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("p2").
			WillReturnError(sql.ErrNoRows)

		upline, err := service.GetUpline(context.Background(), "user-1", 5)
		assert.NoError(t, err)
		assert.Len(t, upline, 2)
		assert.Equal(t, 1, upline[0].Level)
		assert.Equal(t, "p1", upline[0].ParentID)
		assert.Equal(t, 2, upline[1].Level)
		assert.Equal(t, "p2", upline[1].ParentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops at the requested depth", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewNetworkService(db, nil, config.LoadNetworkConfig())

		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("p1", time.Now()))

		upline, err := service.GetUpline(context.Background(), "user-1", 1)
		assert.NoError(t, err)
		assert.Len(t, upline, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails hard on a cycle", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewNetworkService(db, nil, config.LoadNetworkConfig())

		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("b", time.Now()))
		mock.ExpectQuery("SELECT parent_id, created_at").
			WithArgs("b").
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "created_at"}).AddRow("a", time.Now()))

		_, err = service.GetUpline(context.Background(), "a", 5)
		var cycle *CycleError
		assert.ErrorAs(t, err, &cycle)
		assert.Equal(t, "a", cycle.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serves a cached chain without touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewNetworkService(db, redisClient, config.LoadNetworkConfig())

		cached := []models.UplineEntry{{Level: 1, ParentID: "p1", CreatedAt: time.Now().UTC()}}
		data, err := json.Marshal(cached)
		assert.NoError(t, err)
		redisMock.ExpectGet("upline:user-1:3").SetVal(string(data))

		upline, err := service.GetUpline(context.Background(), "user-1", 3)
		assert.NoError(t, err)
		assert.Len(t, upline, 1)
		assert.Equal(t, "p1", upline[0].ParentID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestNetworkService_GetDownline(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewNetworkService(db, nil, config.LoadNetworkConfig())

	t.Run("groups recruits by depth", func(t *testing.T) {
		mock.ExpectQuery("WHERE parent_id = ANY\\(\\$1\\)").
			WithArgs(pq.Array([]string{"user-1"})).
			WillReturnRows(sqlmock.NewRows([]string{"child_id"}).AddRow("c1").AddRow("c2"))
		mock.ExpectQuery("WHERE parent_id = ANY\\(\\$1\\)").
			WithArgs(pq.Array([]string{"c1", "c2"})).
			WillReturnRows(sqlmock.NewRows([]string{"child_id"}).AddRow("c3"))
		mock.ExpectQuery("WHERE parent_id = ANY\\(\\$1\\)").
			WithArgs(pq.Array([]string{"c3"})).
			WillReturnRows(sqlmock.NewRows([]string{"child_id"}))

		levels, err := service.GetDownline(context.Background(), "user-1", 5)
		assert.NoError(t, err)
		assert.Len(t, levels, 2)
		assert.Equal(t, []string{"c1", "c2"}, levels[0].UserIDs)
		assert.Equal(t, []string{"c3"}, levels[1].UserIDs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty tree", func(t *testing.T) {
		mock.ExpectQuery("WHERE parent_id = ANY\\(\\$1\\)").
			WithArgs(pq.Array([]string{"loner"})).
			WillReturnRows(sqlmock.NewRows([]string{"child_id"}))

		levels, err := service.GetDownline(context.Background(), "loner", 3)
		assert.NoError(t, err)
		assert.Empty(t, levels)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNetworkService_ReferralInvite(t *testing.T) {
	service := NewNetworkService(nil, nil, config.LoadNetworkConfig())

	link, qrImage, err := service.ReferralInvite(context.Background(), "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "https://vitawell.ru/ref/user-1", link)
	assert.NotEmpty(t, qrImage)

	raw, err := base64.StdEncoding.DecodeString(qrImage)
	assert.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), raw[:4])
}
