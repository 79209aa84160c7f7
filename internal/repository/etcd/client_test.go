package etcd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaderResignWithoutLeadership(t *testing.T) {
	l := &Leader{}
	assert.False(t, l.IsLeader())
	assert.NoError(t, l.Resign(context.Background()))
}
