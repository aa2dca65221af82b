package hpo_test

import (
	"testing"

	"github.com/thalesfsp/hpo"
	"github.com/thalesfsp/hpo/internal/storagetest"
)

func TestInMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(*testing.T) hpo.Storage {
		return hpo.NewInMemoryStorage()
	})
}
