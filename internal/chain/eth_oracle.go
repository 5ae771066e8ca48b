package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const oracleABIJSON = `[
	{"type":"function","name":"estimateFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"requestDiceRoll","stateMutability":"payable","inputs":[{"name":"roundId","type":"bytes32"},{"name":"sessionCode","type":"string"},{"name":"commitment","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"revealDiceRoll","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"bytes32"},{"name":"reveal","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getResult","stateMutability":"view","inputs":[{"name":"roundId","type":"bytes32"}],"outputs":[{"name":"fulfilled","type":"bool"},{"name":"outcome","type":"uint8"}]},
	{"type":"event","name":"DiceRequested","anonymous":false,"inputs":[{"name":"roundId","type":"bytes32","indexed":true},{"name":"sequenceNumber","type":"uint64","indexed":false}]},
	{"type":"event","name":"DiceRolled","anonymous":false,"inputs":[{"name":"roundId","type":"bytes32","indexed":true},{"name":"outcome","type":"uint8","indexed":false}]}
]`

const (
	receiptPollInterval = 2 * time.Second
	receiptPollTimeout  = 90 * time.Second
	logsPollInterval    = 3 * time.Second
)

// EthOracle drives the dice oracle contract over JSON-RPC. Request
// transactions are signed locally with the requester key; fulfillments are
// picked up by polling the DiceRolled logs.
type EthOracle struct {
	client   *ethclient.Client
	contract common.Address
	parsed   abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int

	rolled chan RolledEvent

	mu     sync.Mutex
	rounds map[common.Hash]string // contract key -> round id, for log decode
}

func NewEthOracle(rpcURL, contractAddr, privKeyHex string, chainID int64) (*EthOracle, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc: %v", err)
	}

	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle abi: %v", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid requester key: %v", err)
	}

	return &EthOracle{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		parsed:   parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
		rolled:   make(chan RolledEvent, 16),
		rounds:   make(map[common.Hash]string),
	}, nil
}

func (o *EthOracle) Requester() common.Address {
	return o.from
}

func (o *EthOracle) EstimateFee(ctx context.Context) (*big.Int, error) {
	input, err := o.parsed.Pack("estimateFee")
	if err != nil {
		return nil, err
	}

	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("estimateFee call failed: %v", err)
	}

	results, err := o.parsed.Unpack("estimateFee", out)
	if err != nil {
		return nil, err
	}
	return results[0].(*big.Int), nil
}

func (o *EthOracle) RequestRandom(ctx context.Context, roundID, sessionCode string, commitment common.Hash, fee *big.Int) (string, error) {
	key := roundKey(roundID)
	o.mu.Lock()
	o.rounds[key] = roundID
	o.mu.Unlock()

	input, err := o.parsed.Pack("requestDiceRoll", key, sessionCode, commitment)
	if err != nil {
		return "", err
	}

	tx, err := o.sendTx(ctx, input, fee)
	if err != nil {
		return "", err
	}

	if err := o.waitMined(ctx, tx.Hash()); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (o *EthOracle) Reveal(ctx context.Context, roundID string, reveal common.Hash) error {
	input, err := o.parsed.Pack("revealDiceRoll", roundKey(roundID), reveal)
	if err != nil {
		return err
	}

	tx, err := o.sendTx(ctx, input, nil)
	if err != nil {
		return err
	}
	return o.waitMined(ctx, tx.Hash())
}

func (o *EthOracle) GetResult(ctx context.Context, roundID string) (bool, int, string, error) {
	input, err := o.parsed.Pack("getResult", roundKey(roundID))
	if err != nil {
		return false, 0, "", err
	}

	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: input}, nil)
	if err != nil {
		return false, 0, "", fmt.Errorf("getResult call failed: %v", err)
	}

	results, err := o.parsed.Unpack("getResult", out)
	if err != nil {
		return false, 0, "", err
	}

	fulfilled := results[0].(bool)
	outcome := int(results[1].(uint8))
	return fulfilled, outcome, "", nil
}

func (o *EthOracle) Rolled() <-chan RolledEvent {
	return o.rolled
}

func (o *EthOracle) sendTx(ctx context.Context, input []byte, value *big.Int) (*types.Transaction, error) {
	nonce, err := o.client.PendingNonceAt(ctx, o.from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %v", err)
	}

	gasPrice, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %v", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	gas, err := o.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  o.from,
		To:    &o.contract,
		Value: value,
		Data:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %v", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &o.contract,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     input,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(o.chainID), o.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %v", err)
	}

	if err := o.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send tx: %v", err)
	}
	return signed, nil
}

func (o *EthOracle) waitMined(ctx context.Context, hash common.Hash) error {
	deadline := time.Now().Add(receiptPollTimeout)
	for time.Now().Before(deadline) {
		receipt, err := o.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
	return fmt.Errorf("transaction %s not mined in time", hash.Hex())
}

// WatchRolled polls DiceRolled logs and feeds the event channel until the
// context is cancelled. Run it once, in its own goroutine.
func (o *EthOracle) WatchRolled(ctx context.Context) {
	topic := o.parsed.Events["DiceRolled"].ID
	var fromBlock *big.Int

	ticker := time.NewTicker(logsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		logs, err := o.client.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{o.contract},
			Topics:    [][]common.Hash{{topic}},
			FromBlock: fromBlock,
		})
		if err != nil {
			log.Printf("DiceRolled log poll failed: %v", err)
			continue
		}

		for _, l := range logs {
			if len(l.Topics) < 2 {
				continue
			}
			o.mu.Lock()
			roundID, ok := o.rounds[l.Topics[1]]
			o.mu.Unlock()
			if !ok {
				continue
			}

			unpacked, err := o.parsed.Unpack("DiceRolled", l.Data)
			if err != nil {
				log.Printf("failed to decode DiceRolled log: %v", err)
				continue
			}

			o.rolled <- RolledEvent{
				RoundID:  roundID,
				Outcome:  int(unpacked[0].(uint8)),
				ProofRef: l.TxHash.Hex(),
			}
			fromBlock = new(big.Int).SetUint64(l.BlockNumber + 1)
		}
	}
}
