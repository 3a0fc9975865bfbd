package db

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", hexMeddler[common.Address]{fromHex: common.HexToAddress})
}
