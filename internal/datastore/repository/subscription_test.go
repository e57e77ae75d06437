package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drsabri-stc/stcedge/internal/push"
)

func sub(endpoint string) push.Subscription {
	return push.Subscription{
		Endpoint: endpoint,
		Keys:     push.Keys{P256dh: "p256-" + endpoint, Auth: "auth-" + endpoint},
	}
}

func TestSubscriptionRepository_AppendList(t *testing.T) {
	repo := NewSubscriptionRepository(setupTestDB(t))
	ctx := t.Context()

	subs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	exp := int64(1893456000000)
	first := sub("https://fcm.googleapis.com/fcm/send/a")
	first.ExpirationTime = &exp
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, sub("https://updates.push.services.mozilla.com/wpush/v2/b")))
	require.NoError(t, repo.Append(ctx, sub("https://fcm.googleapis.com/fcm/send/a")), "duplicate endpoint is ignored")

	subs, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, first, subs[0])
	assert.Nil(t, subs[1].ExpirationTime)
}

func TestSubscriptionRepository_Replace(t *testing.T) {
	repo := NewSubscriptionRepository(setupTestDB(t))
	ctx := t.Context()

	for _, e := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Append(ctx, sub(e)))
	}

	require.NoError(t, repo.Replace(ctx, []push.Subscription{sub("c"), sub("a")}))
	subs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []push.Subscription{sub("c"), sub("a")}, subs)

	require.NoError(t, repo.Replace(ctx, nil))
	subs, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}
