package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/example/chat-relay/config"
	domain "github.com/example/chat-relay/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// createTestModule starts a store module on a temporary sqlite file.
func createTestModule(t *testing.T) *Module {
	t.Helper()

	cfg := config.Config{
		StoreDriver: config.StoreDriverSQLite,
		DBPath:      filepath.Join(t.TempDir(), "chat.db"),
	}
	module := NewModule(cfg, &mockLogger{})
	require.NoError(t, module.Start(context.Background()))
	t.Cleanup(func() {
		_ = module.Stop(context.Background())
	})
	return module
}

func TestModule_Health(t *testing.T) {
	module := NewModule(config.Config{}, &mockLogger{})
	assert.False(t, module.Health(context.Background()).Healthy)

	module = createTestModule(t)
	status := module.Health(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, config.StoreDriverSQLite, status.Details["driver"])
}

func TestModule_AppendMessage_Codes(t *testing.T) {
	module := createTestModule(t)
	ctx := context.Background()
	req := AppendMessageRequest{Author: "alice", Room: "room1", Content: "hi", Token: "t1"}

	resp, err := module.appendMessage(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
	assert.Positive(t, resp.ID)

	resp, err = module.appendMessage(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeDuplicate, resp.Code)
	assert.ErrorIs(t, resp.Err(ServiceAppendMessage), domain.ErrDuplicateToken)
}

func TestModule_MessagesSince_Limit(t *testing.T) {
	module := createTestModule(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		resp, err := module.appendMessage(ctx, AppendMessageRequest{
			Author:  "alice",
			Room:    "global",
			Content: fmt.Sprintf("m%d", i),
			Token:   fmt.Sprintf("t%d", i),
		}, nil)
		require.NoError(t, err)
		require.Equal(t, CodeOK, resp.Code)
	}

	resp, err := module.messagesSince(ctx, MessagesSinceRequest{Room: "global", Limit: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
	require.Len(t, resp.Messages, 2)

	resp, err = module.messagesSince(ctx, MessagesSinceRequest{Room: "global", Offset: resp.Messages[1].ID, Limit: 2}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "m3", resp.Messages[0].Content)
}

func TestModule_SetUserStatus_NotFound(t *testing.T) {
	module := createTestModule(t)

	resp, err := module.setUserStatus(context.Background(), SetUserStatusRequest{
		Handle: "missing",
		Status: domain.StatusOffline,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, resp.Code)
	assert.Nil(t, resp.User)
}

func TestModule_JoinAndSnapshot(t *testing.T) {
	module := createTestModule(t)
	ctx := context.Background()

	roomResp, err := module.upsertRoom(ctx, UpsertRoomRequest{Name: "room1"}, nil)
	require.NoError(t, err)
	require.Equal(t, CodeOK, roomResp.Code)

	userResp, err := module.upsertUser(ctx, UpsertUserRequest{Name: "alice", Room: "room1", Handle: "h1"}, nil)
	require.NoError(t, err)
	require.Equal(t, CodeOK, userResp.Code)

	snapResp, err := module.roomSnapshot(ctx, RoomSnapshotRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Snapshot{
		"room1": {{Name: "alice", Status: domain.StatusOnline}},
	}, snapResp.Snapshot)

	findResp, err := module.findUser(ctx, FindUserRequest{Name: "alice"}, nil)
	require.NoError(t, err)
	require.NotNil(t, findResp.User)
	assert.Equal(t, "h1", findResp.User.ConnectionHandle)
}

func TestResult_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name: "ok",
			code: CodeOK,
			checkFn: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "duplicate",
			err:  domain.ErrDuplicateToken,
			code: CodeDuplicate,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrDuplicateToken)
			},
		},
		{
			name: "not found",
			err:  domain.ErrNotFound,
			code: CodeNotFound,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			},
		},
		{
			name: "transient",
			err:  domain.Transient("append message", errors.New("database is locked")),
			code: CodeError,
			checkFn: func(t *testing.T, err error) {
				assert.True(t, domain.IsTransient(err))
				assert.Contains(t, err.Error(), "database is locked")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resultOf(tt.err)
			assert.Equal(t, tt.code, res.Code)
			tt.checkFn(t, res.Err(ServiceAppendMessage))
		})
	}
}

func TestNewAdapter_NilContainer(t *testing.T) {
	assert.Panics(t, func() {
		NewAdapter(nil)
	})
}
