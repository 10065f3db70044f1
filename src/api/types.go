package api

import (
	"time"

	"github.com/onemorebsmith/contribution-ledger/src/model"
)

// Amounts travel as decimal wei strings; JSON numbers cannot hold 256 bits.

type TermsResponse struct {
	PaymentAmount string `json:"paymentAmount"`
	RewardRate    uint64 `json:"rewardRate"`
	SupplyCap     string `json:"supplyCap"`
	Operator      string `json:"operator,omitempty"`
}

type ContributionResponse struct {
	Identity     string `json:"identity"`
	Contribution string `json:"contribution"`
}

type BalanceResponse struct {
	Identity     string `json:"identity"`
	TokenBalance string `json:"tokenBalance"`
}

type EntryResponse struct {
	Identity     string `json:"identity"`
	Contribution string `json:"contribution"`
	TokenBalance string `json:"tokenBalance"`
}

type TotalsResponse struct {
	Issued        string `json:"issued"`
	Custody       string `json:"custody"`
	Contributions uint64 `json:"contributions"`
}

type RecentContribution struct {
	Id        string    `json:"id"`
	Identity  string    `json:"identity"`
	Payment   string    `json:"payment"`
	Reward    string    `json:"reward"`
	Committed time.Time `json:"committed"`
}

type ContributeRequest struct {
	Value string `json:"value"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
}

type RetryRequest struct {
	IncludePending bool `json:"includePending"`
}

type WithdrawalResponse struct {
	Id       string  `json:"id"`
	Operator string  `json:"operator"`
	Amount   string  `json:"amount"`
	Status   string  `json:"status"`
	TxId     *string `json:"txId,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewTermsResponse(t model.Terms, operator model.Identity) TermsResponse {
	resp := TermsResponse{
		PaymentAmount: t.PaymentAmount.Dec(),
		RewardRate:    t.RewardRate,
		SupplyCap:     "0",
	}
	if t.Capped() {
		resp.SupplyCap = t.SupplyCap.Dec()
	}
	if operator != (model.Identity{}) {
		resp.Operator = operator.Hex()
	}
	return resp
}

func NewEntryResponse(e model.LedgerEntry) EntryResponse {
	return EntryResponse{
		Identity:     e.Identity.Hex(),
		Contribution: e.CumulativePayment.Dec(),
		TokenBalance: e.CumulativeReward.Dec(),
	}
}

func NewTotalsResponse(t model.Totals) TotalsResponse {
	return TotalsResponse{
		Issued:        t.Issued.Dec(),
		Custody:       t.Custody.Dec(),
		Contributions: t.Contributions,
	}
}

func NewWithdrawalResponse(w *model.Withdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		Id:       w.Id.String(),
		Operator: w.Operator.Hex(),
		Amount:   w.Amount.Dec(),
		Status:   string(w.Status),
		TxId:     w.TxId,
	}
}
