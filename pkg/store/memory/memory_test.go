package memory

import (
	"testing"

	"github.com/nstogner/datachat/pkg/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, New())
}
