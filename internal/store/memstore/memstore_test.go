package memstore_test

import (
	"testing"

	"github.com/MarkoPoloResearchLab/wager/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/wager/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

func TestStoreContract(test *testing.T) {
	test.Parallel()
	storetest.Run(test, func(test *testing.T) wager.Store {
		return memstore.New()
	})
}
