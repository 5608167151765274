package chain

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Transaction is a ledger transaction as reported by getrawtransaction.
type Transaction struct {
	Hash            string `json:"hash"`
	Sender          string `json:"sender"`
	ValidUntilBlock uint64 `json:"validuntilblock"`
	Confirmations   int64  `json:"confirmations"`
	BlockHash       string `json:"blockhash"`
	BlockTime       int64  `json:"blocktime"`
}

// ApplicationLog is the execution record of a settled transaction.
type ApplicationLog struct {
	TxID       string          `json:"txid"`
	Executions []Execution     `json:"executions"`
	Raw        json.RawMessage `json:"-"`
}

// Execution is one VM execution within an application log.
type Execution struct {
	Trigger       string          `json:"trigger"`
	VMState       string          `json:"vmstate"`
	Exception     string          `json:"exception"`
	Notifications json.RawMessage `json:"notifications"`
}

// Halted reports whether every execution completed successfully.
func (l *ApplicationLog) Halted() bool {
	if len(l.Executions) == 0 {
		return false
	}
	for _, ex := range l.Executions {
		if ex.VMState != "HALT" {
			return false
		}
	}
	return true
}

// TransferEvent is a settled value transfer extracted from an application
// log's Transfer notifications.
type TransferEvent struct {
	Asset  string
	From   string
	To     string
	Amount int64
}

// TransferEvents extracts Transfer notifications from a raw application
// log. Notification state payloads are polymorphic across contracts, so
// parsing is tolerant: entries that do not look like a transfer are
// skipped rather than failing the whole log.
func TransferEvents(raw json.RawMessage) []TransferEvent {
	var events []TransferEvent
	gjson.GetBytes(raw, "executions").ForEach(func(_, exec gjson.Result) bool {
		exec.Get("notifications").ForEach(func(_, n gjson.Result) bool {
			if n.Get("eventname").String() != "Transfer" {
				return true
			}
			state := n.Get("state.value")
			if !state.IsArray() || len(state.Array()) < 3 {
				return true
			}
			items := state.Array()
			events = append(events, TransferEvent{
				Asset:  n.Get("contract").String(),
				From:   items[0].Get("value").String(),
				To:     items[1].Get("value").String(),
				Amount: items[2].Get("value").Int(),
			})
			return true
		})
		return true
	})
	return events
}
