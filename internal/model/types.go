package model

import "time"

const EnvelopeVersion = "v1"

// Envelope is the uniform command output wrapper.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Cache     CacheStatus `json:"cache"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// TokenDescriptor identifies a token on a chain. Identity is
// (ChainID, Address); Address holds a native sentinel for gas assets.
type TokenDescriptor struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// RouteStep is one leg of an aggregated swap route.
type RouteStep struct {
	Tool        string `json:"tool"`
	FromChainID int64  `json:"from_chain_id"`
	ToChainID   int64  `json:"to_chain_id"`
	ToAmount    string `json:"to_amount,omitempty"`
}

// TransactionPayload is the raw transaction embedded in a quote. It is
// submitted unmodified.
type TransactionPayload struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	ChainID  int64  `json:"chain_id"`
	GasLimit string `json:"gas_limit,omitempty"`
}

// Quote is produced fresh per request and never mutated, only replaced.
type Quote struct {
	FromToken       TokenDescriptor     `json:"from_token"`
	ToToken         TokenDescriptor     `json:"to_token"`
	FromAmount      AmountInfo          `json:"from_amount"`
	EstimatedOut    AmountInfo          `json:"estimated_out"`
	MinimumOut      AmountInfo          `json:"minimum_out"`
	Steps           []RouteStep         `json:"steps,omitempty"`
	Tool            string              `json:"tool"`
	ApprovalAddress string              `json:"approval_address,omitempty"`
	Transaction     *TransactionPayload `json:"transaction,omitempty"`
	EstimatedTimeS  int64               `json:"estimated_time_s"`
	EstimatedFeeUSD float64             `json:"estimated_fee_usd"`
	FetchedAt       string              `json:"fetched_at"`
}

func (q *Quote) CrossChain() bool {
	return q.FromToken.ChainID != q.ToToken.ChainID
}

// TransferState is the cross-chain transfer status reported by the
// aggregator's status endpoint.
type TransferState string

const (
	TransferPending  TransferState = "PENDING"
	TransferDone     TransferState = "DONE"
	TransferFailed   TransferState = "FAILED"
	TransferNotFound TransferState = "NOT_FOUND"
	TransferInvalid  TransferState = "INVALID"

	// TransferTimeout is reported locally when the polling budget is
	// exhausted while the provider still says PENDING. Not a failure.
	TransferTimeout TransferState = "TIMEOUT"
)

func (s TransferState) Terminal() bool {
	return s == TransferDone || s == TransferFailed
}

type TransferLeg struct {
	TxHash  string `json:"tx_hash,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Token   string `json:"token,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
}

type TransferStatus struct {
	State     TransferState `json:"state"`
	Substatus string        `json:"substatus,omitempty"`
	Sending   *TransferLeg  `json:"sending,omitempty"`
	Receiving *TransferLeg  `json:"receiving,omitempty"`
	Attempt   int           `json:"attempt"`
}

// Category is the closed set of transaction classifications.
type Category string

const (
	CategoryAgentPayment Category = "agent_payment"
	CategoryDexSwap      Category = "dex_swap"
	CategoryTransfer     Category = "transfer"
	CategoryOther        Category = "other"
)

type TxKind string

const (
	TxKindNative TxKind = "native"
	TxKindToken  TxKind = "token"
)

type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// TransactionRecord is one indexed transfer. Hash is the identity key
// within a chain; overlapping address queries must deduplicate on it.
type TransactionRecord struct {
	Hash          string   `json:"hash"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Value         string   `json:"value"`
	TokenSymbol   string   `json:"token_symbol,omitempty"`
	TokenName     string   `json:"token_name,omitempty"`
	TokenDecimals int      `json:"token_decimals,omitempty"`
	Timestamp     int64    `json:"timestamp"`
	BlockNumber   int64    `json:"block_number"`
	Kind          TxKind   `json:"kind"`
	Status        TxStatus `json:"status"`
	Category      Category `json:"category"`
}
