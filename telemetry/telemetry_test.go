package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown := Setup(context.Background(), Options{ServiceName: "tablebook"}, zap.NewNop())
	assert.NoError(t, shutdown(context.Background()))
}
