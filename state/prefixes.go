package state

import (
	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

var (
	assetPrefix    = []byte("lend/asset/")
	poolPrefix     = []byte("lend/pool/")
	positionPrefix = []byte("lend/position/")
	assetIndexKey  = []byte("lend/assets")
	paramsKey      = []byte("lend/params")
	sequenceKey    = []byte("lend/sequence")
)

func assetKey(token common.Address) []byte {
	return append(append([]byte(nil), assetPrefix...), token.Bytes()...)
}

func poolKey(token common.Address) []byte {
	return append(append([]byte(nil), poolPrefix...), token.Bytes()...)
}

// positionKey hashes the owner and token together so every position record
// sits under a fixed-length key regardless of future identifier shapes.
func positionKey(user, token common.Address) []byte {
	digest := blake3.Sum256(append(user.Bytes(), token.Bytes()...))
	return append(append([]byte(nil), positionPrefix...), digest[:]...)
}
