package executor

import (
	"github.com/ethereum/go-ethereum/common"
)

// factoryInitCode deploys the CREATE2 factory stub. The stub takes calldata
// salt(32) ++ initCode, runs CREATE2 forwarding CALLVALUE, returns the new address
// as a 32-byte word and reverts when CREATE2 yields the zero address.
//
//	PUSH1 32 CALLDATASIZE SUB DUP1 PUSH1 32 PUSH1 0 CALLDATACOPY
//	PUSH1 0 CALLDATALOAD SWAP1 PUSH1 0 CALLVALUE CREATE2
//	DUP1 ISZERO PUSH1 0x1f JUMPI
//	PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
//	JUMPDEST PUSH1 0 DUP1 REVERT
const factoryInitCode = "0x6024600c60003960246000f3" +
	"6020360380602060003760003590600034f58015601f5760005260206000f35b600080fd"

// identityChildPrefix is the constructor of a minimal child contract. It reads the
// trailing 32-byte constructor argument, reverts when it is zero, stores it in slot 0
// and installs runtime code that answers any call with that slot.
const identityChildPrefix = "0x6020602038036000396000518015602057600055600b6025600039600b6000f35b600080fd" +
	"60005460005260206000f3"

// FactoryInitCode returns the creation bytecode of the CREATE2 factory stub.
func FactoryInitCode() []byte {
	return common.FromHex(factoryInitCode)
}

// IdentityChildInitCode returns init code for a child contract that reports identity
// from every call, including erc20(). A zero identity makes the constructor revert.
func IdentityChildInitCode(identity common.Address) []byte {
	code := common.FromHex(identityChildPrefix)
	return append(code, common.LeftPadBytes(identity.Bytes(), 32)...)
}
