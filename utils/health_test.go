package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestCheckHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	status := CheckHealth(context.Background(), map[string]Pinger{
		"redis": RedisPinger(client),
		"mongo": PingFunc(func(context.Context) error { return errors.New("down") }),
	})

	assert.True(t, status.Components["redis"])
	assert.False(t, status.Components["mongo"])
	assert.False(t, status.Healthy)
	assert.Equal(t, status, GetHealthStatus())
}
