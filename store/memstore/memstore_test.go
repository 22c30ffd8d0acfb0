package memstore

import (
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Gateway { return New() })
}
